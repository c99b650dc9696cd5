package gena

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wysentanu/upnpcore/internal/types"
	"github.com/wysentanu/upnpcore/internal/upnperror"
)

// subscriber is one active GENA subscription on a served service.
type subscriber struct {
	sid        string
	callback   string
	expiresAt  time.Time
	sequence   uint32
}

// ControlHandler answers an inbound SOAP action for one service.
type ControlHandler func(types.ActionRequest) types.ActionResult

// SubscriptionHandler is invoked for a new or renewed subscription; it
// may reject the request by returning an error, or grant it (optionally
// clamping the requested timeout) and supply an initial event body.
type SubscriptionHandler func(types.SubscriptionRequest) (types.SubscriptionResponse, error)

// Server is the HTTP+GENA front for one served device: device
// description, per-service SCPD and control, and per-service
// subscription/event state.
type Server struct {
	Device *types.Device

	DeviceDescriptionXML func() []byte
	SCPD                 map[types.ServiceKind][]byte
	Control              map[types.ServiceKind]ControlHandler
	OnSubscribe          map[types.ServiceKind]SubscriptionHandler

	DefaultTimeout time.Duration
	MaxTimeout     time.Duration

	mu    sync.Mutex
	subs  map[types.ServiceKind]map[string]*subscriber // serviceKind -> sid -> subscriber
}

// NewServer creates a GENA server for device.
func NewServer(device *types.Device) *Server {
	return &Server{
		Device:         device,
		SCPD:           make(map[types.ServiceKind][]byte),
		Control:        make(map[types.ServiceKind]ControlHandler),
		OnSubscribe:    make(map[types.ServiceKind]SubscriptionHandler),
		DefaultTimeout: 1800 * time.Second,
		MaxTimeout:     24 * time.Hour,
		subs:           make(map[types.ServiceKind]map[string]*subscriber),
	}
}

// Mux builds an http.ServeMux wired with the device description, each
// service's SCPD/control/eventing endpoints, following the RelURL
// layout the device description itself advertises.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc(s.Device.RelURL, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.Write(s.DeviceDescriptionXML())
	})

	for kind, svc := range s.Device.Services {
		kind, svc := kind, svc

		if body, ok := s.SCPD[kind]; ok {
			mux.HandleFunc(svc.SCPDURL, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/xml; charset=utf-8")
				w.Write(body)
			})
		}

		mux.HandleFunc(svc.ControlURL, func(w http.ResponseWriter, r *http.Request) {
			s.handleControl(w, r, kind, svc)
		})

		mux.HandleFunc(svc.EventSubscriptionURL, func(w http.ResponseWriter, r *http.Request) {
			s.handleSubscription(w, r, kind, svc)
		})
	}

	return mux
}

func (s *Server) handleControl(w http.ResponseWriter, r *http.Request, kind types.ServiceKind, svc *types.Service) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	handler, ok := s.Control[kind]
	if !ok {
		http.Error(w, "no control handler for service", http.StatusNotImplemented)
		return
	}

	buf := new(bytes.Buffer)
	buf.ReadFrom(r.Body)
	body := buf.Bytes()

	actionName := actionNameFromSOAPAction(r.Header.Get("SOAPACTION"))
	result := handler(types.ActionRequest{ServiceType: svc.Type, ActionName: actionName, RawBody: body})

	if result.Success {
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.Write([]byte(result.Response))
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write(buildFaultEnvelope(upnperror.New(result.FaultCode, result.FaultDesc)))
}

func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request, kind types.ServiceKind, svc *types.Service) {
	switch r.Method {
	case "SUBSCRIBE":
		s.handleSubscribe(w, r, kind, svc)
	case "UNSUBSCRIBE":
		s.handleUnsubscribe(w, r, kind)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request, kind types.ServiceKind, svc *types.Service) {
	sid := r.Header.Get("SID")
	callback := trimCallback(r.Header.Get("CALLBACK"))
	timeout := clampTimeout(parseTimeoutHeader(r.Header.Get("TIMEOUT")), s.DefaultTimeout, s.MaxTimeout)

	if sid == "" && callback == "" {
		http.Error(w, "missing SID or CALLBACK", http.StatusBadRequest)
		return
	}

	isRenewal := sid != ""
	if !isRenewal {
		sid = "uuid:" + uuid.NewString()
	}

	handler, ok := s.OnSubscribe[kind]
	if !ok {
		uerr := upnperror.New(upnperror.CodePreconditionFailed, "no subscription handler installed")
		http.Error(w, uerr.Error(), http.StatusPreconditionFailed)
		return
	}

	var initialEvent string
	resp, err := handler(types.SubscriptionRequest{ServiceID: svc.ID, Sid: sid, Timeout: timeout})
	if err != nil {
		uerr := upnperror.Wrap(upnperror.CodePreconditionFailed, "subscription rejected", err)
		http.Error(w, uerr.Error(), http.StatusPreconditionFailed)
		return
	}
	if resp.Timeout > 0 {
		timeout = resp.Timeout
	}
	initialEvent = resp.InitialEvent

	s.mu.Lock()
	if s.subs[kind] == nil {
		s.subs[kind] = make(map[string]*subscriber)
	}
	sub, existed := s.subs[kind][sid]
	if !existed {
		sub = &subscriber{sid: sid, callback: callback}
		s.subs[kind][sid] = sub
	}
	sub.expiresAt = time.Now().Add(timeout)
	s.mu.Unlock()

	w.Header().Set("SID", sid)
	w.Header().Set("TIMEOUT", formatTimeoutHeader(timeout))
	w.WriteHeader(http.StatusOK)

	if !existed && initialEvent != "" {
		go s.notifyOne(kind, sub, initialEvent)
	}
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request, kind types.ServiceKind) {
	sid := r.Header.Get("SID")
	if sid == "" {
		http.Error(w, "missing SID", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if subs, ok := s.subs[kind]; ok {
		delete(subs, sid)
	}
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

// Notify pushes body to every live subscriber of the service kind,
// each with its own monotonically increasing (and wrapping, per GENA)
// sequence number.
func (s *Server) Notify(kind types.ServiceKind, body string) {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs[kind]))
	for _, sub := range s.subs[kind] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	for _, sub := range subs {
		go s.notifyOne(kind, sub, body)
	}
}

func (s *Server) notifyOne(kind types.ServiceKind, sub *subscriber, body string) {
	s.mu.Lock()
	seq := sub.sequence
	sub.sequence++ // wraps naturally via uint32 overflow
	s.mu.Unlock()

	req, err := http.NewRequest("NOTIFY", sub.callback, bytes.NewBufferString(body))
	if err != nil {
		return
	}
	req.Header.Set("CONTENT-TYPE", "text/xml; charset=\"utf-8\"")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("NTS", "upnp:propchange")
	req.Header.Set("SID", sub.sid)
	req.Header.Set("SEQ", fmt.Sprintf("%d", seq))

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// SweepExpired drops subscriptions whose TIMEOUT has elapsed.
func (s *Server) SweepExpired() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for kind, subs := range s.subs {
		for sid, sub := range subs {
			if sub.expiresAt.Before(now) {
				delete(subs, sid)
			}
		}
		if len(subs) == 0 {
			delete(s.subs, kind)
		}
	}
}

// WrapPropertySet builds a GENA event body: an e:propertyset with one
// e:property per entry in vars, in map-iteration order is not
// guaranteed so callers needing stable order should pass a single
// LastChange-style variable.
func WrapPropertySet(vars map[string]string) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	buf.WriteString(`<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">`)
	for name, value := range vars {
		buf.WriteString(`<e:property>`)
		fmt.Fprintf(&buf, "<%s>", name)
		xml.EscapeText(&buf, []byte(value))
		fmt.Fprintf(&buf, "</%s>", name)
		buf.WriteString(`</e:property>`)
	}
	buf.WriteString(`</e:propertyset>`)
	return buf.Bytes()
}

func buildFaultEnvelope(uerr *upnperror.Error) []byte {
	return []byte(fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">
<s:Body>
<s:Fault>
<faultcode>s:Client</faultcode>
<faultstring>UPnPError</faultstring>
<detail>
<u:UPnPError xmlns:u="urn:schemas-upnp-org:control-1-0">
<errorCode>%d</errorCode>
<errorDescription>%s</errorDescription>
</u:UPnPError>
</detail>
</s:Fault>
</s:Body>
</s:Envelope>`, uerr.Code, uerr.Description))
}

func actionNameFromSOAPAction(header string) string {
	header = trimQuotes(header)
	for i := len(header) - 1; i >= 0; i-- {
		if header[i] == '#' {
			return header[i+1:]
		}
	}
	return header
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func trimCallback(header string) string {
	if len(header) >= 2 && header[0] == '<' && header[len(header)-1] == '>' {
		return header[1 : len(header)-1]
	}
	return header
}

func clampTimeout(requested, def, max time.Duration) time.Duration {
	if requested <= 0 {
		return def
	}
	if requested > max {
		return max
	}
	return requested
}
