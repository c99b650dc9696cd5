package soap

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wysentanu/upnpcore/internal/types"
)

func TestBuildActionEnvelope(t *testing.T) {
	action := types.Action{
		Name:        "Browse",
		ServiceType: types.ServiceType{Kind: types.ContentDirectory, Version: 1},
		Arguments: []types.Argument{
			{Name: "ObjectID", Value: "0"},
			{Name: "BrowseFlag", Value: "BrowseDirectChildren"},
		},
	}

	env := string(BuildActionEnvelope(action))

	if !strings.Contains(env, `<u:Browse xmlns:u="urn:schemas-upnp-org:service:ContentDirectory:1">`) {
		t.Errorf("envelope missing action element: %s", env)
	}
	if !strings.Contains(env, "<ObjectID>0</ObjectID>") {
		t.Errorf("envelope missing ObjectID argument: %s", env)
	}
	if !strings.Contains(env, "</u:Browse>") {
		t.Errorf("envelope missing closing action element: %s", env)
	}
}

func TestSOAPActionHeader(t *testing.T) {
	header := SOAPActionHeader(types.ServiceType{Kind: types.AVTransport, Version: 1}, "Play")
	want := `"urn:schemas-upnp-org:service:AVTransport:1#Play"`
	if header != want {
		t.Errorf("SOAPActionHeader = %q, want %q", header, want)
	}
}

func TestParseFault(t *testing.T) {
	body := []byte(`<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body>
<s:Fault>
<faultcode>s:Client</faultcode>
<faultstring>UPnPError</faultstring>
<detail>
<u:UPnPError xmlns:u="urn:schemas-upnp-org:control-1-0">
<errorCode>402</errorCode>
<errorDescription>Invalid Args</errorDescription>
</u:UPnPError>
</detail>
</s:Fault>
</s:Body>
</s:Envelope>`)

	uerr, err := ParseFault(body)
	if err != nil {
		t.Fatalf("ParseFault error: %v", err)
	}
	if uerr.Code != 402 {
		t.Errorf("code = %d, want 402", uerr.Code)
	}
	if uerr.Description != "Invalid Args" {
		t.Errorf("desc = %q, want %q", uerr.Description, "Invalid Args")
	}
}

func TestArgValue(t *testing.T) {
	body := `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body>
<u:GetTransportInfoResponse xmlns:u="urn:schemas-upnp-org:service:AVTransport:1">
<CurrentTransportState>PLAYING</CurrentTransportState>
</u:GetTransportInfoResponse>
</s:Body>
</s:Envelope>`

	val, err := ArgValue(body, "CurrentTransportState")
	if err != nil {
		t.Fatalf("ArgValue error: %v", err)
	}
	if val != "PLAYING" {
		t.Errorf("ArgValue = %q, want PLAYING", val)
	}
}

func TestSendActionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/"><s:Body><u:PlayResponse/></s:Body></s:Envelope>`))
	}))
	defer srv.Close()

	client := NewClient()
	result, err := client.SendAction(context.Background(), types.Action{
		Name:        "Play",
		ServiceType: types.ServiceType{Kind: types.AVTransport, Version: 1},
		ControlURL:  srv.URL,
	})
	if err != nil {
		t.Fatalf("SendAction error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got fault %d/%d %s", result.FaultStatus, result.FaultCode, result.FaultDesc)
	}
}

func TestSendActionFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
<s:Body><s:Fault><faultcode>s:Client</faultcode><faultstring>UPnPError</faultstring>
<detail><u:UPnPError xmlns:u="urn:schemas-upnp-org:control-1-0"><errorCode>501</errorCode><errorDescription>Action Failed</errorDescription></u:UPnPError></detail>
</s:Fault></s:Body></s:Envelope>`))
	}))
	defer srv.Close()

	client := NewClient()
	result, err := client.SendAction(context.Background(), types.Action{
		Name:        "Play",
		ServiceType: types.ServiceType{Kind: types.AVTransport, Version: 1},
		ControlURL:  srv.URL,
	})
	if err != nil {
		t.Fatalf("SendAction error: %v", err)
	}
	if result.Success {
		t.Fatal("expected a fault result")
	}
	if result.FaultCode != 501 {
		t.Errorf("FaultCode = %d, want 501", result.FaultCode)
	}
}

func TestWalkBrowseResultsPages(t *testing.T) {
	pages := [][2]uint32{{0, 2}, {2, 2}, {4, 1}} // (start, numberReturned) per call
	total := uint32(5)
	call := 0

	results, err := WalkBrowseResults(2, func(start, requested uint32) (BrowseResult, error) {
		if int(start) != int(pages[call][0]) {
			t.Fatalf("call %d: start = %d, want %d", call, start, pages[call][0])
		}
		numberReturned := pages[call][1]
		call++
		return BrowseResult{
			Result:         "page",
			NumberReturned: numberReturned,
			TotalMatches:   total,
		}, nil
	})
	if err != nil {
		t.Fatalf("WalkBrowseResults error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d pages, want 3", len(results))
	}
	if call != 3 {
		t.Fatalf("fetch invoked %d times, want 3", call)
	}
}

func TestWalkBrowseResultsStopsOnEmptyPage(t *testing.T) {
	calls := 0
	_, err := WalkBrowseResults(10, func(start, requested uint32) (BrowseResult, error) {
		calls++
		return BrowseResult{NumberReturned: 0, TotalMatches: 100}, nil
	})
	if err != nil {
		t.Fatalf("WalkBrowseResults error: %v", err)
	}
	if calls != 1 {
		t.Fatalf("fetch invoked %d times, want 1 (should stop on a zero-length page)", calls)
	}
}
