// Package soap implements the SOAP control layer of spec.md §4.6/§4.7:
// building control envelopes, decoding action responses and faults, and
// sending requests over HTTP. Structured XML decoding replaces the
// teacher's ad hoc substring scanning (see internal/dlna/avtransport.go),
// grounded on the struct-tag style already used by internal/types.
package soap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wysentanu/upnpcore/internal/types"
	"github.com/wysentanu/upnpcore/internal/upnperror"
)

// envelope is the outer SOAP-1.1 wrapper shared by requests and replies.
type envelope struct {
	XMLName xml.Name `xml:"http://schemas.xmlsoap.org/soap/envelope/ Envelope"`
	Body    body     `xml:"Body"`
}

type body struct {
	Fault *fault `xml:"Fault"`
	Raw   []byte `xml:",innerxml"`
}

// fault is a UPnP SOAP fault: the generic SOAP fault wrapping a
// upnp:UPnPError detail, per UDA Annex A.
type fault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
	Detail      struct {
		UPnPError struct {
			ErrorCode        int    `xml:"errorCode"`
			ErrorDescription string `xml:"errorDescription"`
		} `xml:"UPnPError"`
	} `xml:"detail"`
}

// BuildActionEnvelope renders a to control the wire envelope a
// ControlURL expects: <s:Envelope><s:Body><u:Name xmlns:u="urn">args</u:Name>...
func BuildActionEnvelope(action types.Action) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	buf.WriteString(`<s:Body>`)
	urn := types.FormatServiceURN(action.ServiceType)
	fmt.Fprintf(&buf, `<u:%s xmlns:u="%s">`, action.Name, urn)
	for _, arg := range action.Arguments {
		fmt.Fprintf(&buf, "<%s>", arg.Name)
		xml.EscapeText(&buf, []byte(arg.Value))
		fmt.Fprintf(&buf, "</%s>", arg.Name)
	}
	fmt.Fprintf(&buf, `</u:%s>`, action.Name)
	buf.WriteString(`</s:Body></s:Envelope>`)
	return buf.Bytes()
}

// SOAPActionHeader builds the SOAPACTION header value for action.
func SOAPActionHeader(serviceType types.ServiceType, actionName string) string {
	return fmt.Sprintf(`"%s#%s"`, types.FormatServiceURN(serviceType), actionName)
}

// Client sends SOAP actions over HTTP, mirroring the teacher's
// sendSOAPActionWithResponse but returning a structured ActionResult
// instead of a bare error, since spec.md §4.6 needs to distinguish a
// transport failure from a UPnP fault response.
type Client struct {
	HTTP *http.Client
}

// NewClient returns a Client with a sane default timeout, grounded on
// internal/dlna's AVTransportController construction.
func NewClient() *Client {
	return &Client{HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// SendAction POSTs action to its ControlURL and decodes the reply.
func (c *Client) SendAction(ctx context.Context, action types.Action) (*types.ActionResult, error) {
	envBytes := BuildActionEnvelope(action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.ControlURL, bytes.NewReader(envBytes))
	if err != nil {
		return nil, fmt.Errorf("soap: build request: %w", err)
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", SOAPActionHeader(action.ServiceType, action.Name))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("soap: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("soap: read response: %w", err)
	}

	if resp.StatusCode == http.StatusInternalServerError {
		uerr, ferr := ParseFault(respBody)
		if ferr != nil {
			return &types.ActionResult{Success: false, FaultStatus: resp.StatusCode}, nil
		}
		return &types.ActionResult{
			Success:     false,
			FaultStatus: resp.StatusCode,
			FaultCode:   uerr.Code,
			FaultDesc:   uerr.Description,
		}, nil
	}

	if resp.StatusCode != http.StatusOK {
		return &types.ActionResult{Success: false, FaultStatus: resp.StatusCode}, nil
	}

	return &types.ActionResult{Success: true, Response: string(respBody)}, nil
}

// ParseFault extracts the UPnP error code/description from a SOAP
// fault body as a structured upnperror.Error.
func ParseFault(body []byte) (*upnperror.Error, error) {
	var env envelope
	if err := xml.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("soap: parse fault: %w", err)
	}
	if env.Body.Fault == nil {
		return nil, fmt.Errorf("soap: no fault in response")
	}
	f := env.Body.Fault
	if f.Detail.UPnPError.ErrorCode == 0 && f.Detail.UPnPError.ErrorDescription == "" {
		return upnperror.New(0, f.FaultString), nil
	}
	return upnperror.New(f.Detail.UPnPError.ErrorCode, f.Detail.UPnPError.ErrorDescription), nil
}

// ArgValue extracts the text content of argName's element from a
// successful action response body.
func ArgValue(responseBody, argName string) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader([]byte(responseBody)))
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", fmt.Errorf("soap: argument %q not found in response", argName)
		}
		if err != nil {
			return "", fmt.Errorf("soap: decode response: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != argName {
			continue
		}
		var value string
		if err := dec.DecodeElement(&value, &start); err != nil {
			return "", fmt.Errorf("soap: decode argument %q: %w", argName, err)
		}
		return value, nil
	}
}

// BrowseResult is one page of a Browse/Search action response, per
// ContentDirectory:1's Browse action out-arguments.
type BrowseResult struct {
	Result         string
	NumberReturned uint32
	TotalMatches   uint32
	UpdateID       uint32
}

// WalkBrowseResults pages through a Browse (or Search) action, invoking
// fetch for each successive (startIndex, requestedCount) until every
// match has been retrieved or fetch returns an error. requestedCount
// of 0 asks the device for as many as it is willing to give per page;
// devices that ignore paging and return everything on the first page
// are handled since NumberReturned/TotalMatches drive the loop, not a
// fixed page size. This generalizes the original C++ Browser's
// limit/offset walk (upnpbrowser.h) without any CDS-specific semantics,
// consistent with the spec's non-goal of not modeling content
// directory browsing itself.
func WalkBrowseResults(pageSize uint32, fetch func(startIndex, requestedCount uint32) (BrowseResult, error)) ([]string, error) {
	var pages []string
	var start uint32

	for {
		page, err := fetch(start, pageSize)
		if err != nil {
			return pages, err
		}
		if page.Result != "" {
			pages = append(pages, page.Result)
		}
		start += page.NumberReturned
		if page.NumberReturned == 0 || start >= page.TotalMatches {
			return pages, nil
		}
	}
}
