// Package gena implements the GENA event subscription fabric of
// spec.md §4.6/§4.7: a client that subscribes to remote services and
// receives NOTIFY pushes, and a server that serves a device description
// and fields SUBSCRIBE/RENEW/UNSUBSCRIBE/NOTIFY on behalf of a root
// device. All of its HTTP traffic, including inbound NOTIFY, goes
// through net/http; SOAP control requests from the client side are
// sent by internal/soap, not by this package.
package gena

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/wysentanu/upnpcore/internal/types"
)

// Client subscribes to remote GENA services and dispatches inbound
// NOTIFY traffic by subscription id (sid).
type Client struct {
	HTTP        *http.Client
	CallbackURL string // this client's NOTIFY endpoint, e.g. http://host:port/notify

	mu        sync.Mutex
	listeners map[string]func(types.SubscriptionEvent)
	sequences map[string]uint32
}

// NewClient returns a Client whose inbound NOTIFY endpoint is
// callbackURL; wire its Handler into an http.ServeMux at the matching
// path.
func NewClient(callbackURL string) *Client {
	return &Client{
		HTTP:        &http.Client{Timeout: 10 * time.Second},
		CallbackURL: callbackURL,
		listeners:   make(map[string]func(types.SubscriptionEvent)),
		sequences:   make(map[string]uint32),
	}
}

// Subscribe sends SUBSCRIBE to svc.EventSubscriptionURL, registers cb
// for every NOTIFY carrying the granted sid, and returns the sid and
// the timeout actually granted.
func (c *Client) Subscribe(ctx context.Context, svc *types.Service, timeout time.Duration, cb func(types.SubscriptionEvent)) (sid string, granted time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", svc.EventSubscriptionURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("gena: build subscribe request: %w", err)
	}
	req.Header.Set("CALLBACK", "<"+c.CallbackURL+">")
	req.Header.Set("NT", "upnp:event")
	req.Header.Set("TIMEOUT", formatTimeoutHeader(timeout))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("gena: subscribe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("gena: subscribe failed, status %d", resp.StatusCode)
	}

	sid = resp.Header.Get("SID")
	if sid == "" {
		return "", 0, fmt.Errorf("gena: subscribe response missing SID")
	}
	granted = parseTimeoutHeader(resp.Header.Get("TIMEOUT"))

	c.mu.Lock()
	c.listeners[sid] = cb
	c.sequences[sid] = 0
	c.mu.Unlock()

	return sid, granted, nil
}

// Renew sends RENEW for an existing sid and returns the freshly
// granted timeout.
func (c *Client) Renew(ctx context.Context, svc *types.Service, sid string, timeout time.Duration) (time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, "SUBSCRIBE", svc.EventSubscriptionURL, nil)
	if err != nil {
		return 0, fmt.Errorf("gena: build renew request: %w", err)
	}
	req.Header.Set("SID", sid)
	req.Header.Set("TIMEOUT", formatTimeoutHeader(timeout))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gena: renew: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("gena: renew failed, status %d", resp.StatusCode)
	}
	return parseTimeoutHeader(resp.Header.Get("TIMEOUT")), nil
}

// Unsubscribe sends UNSUBSCRIBE for sid and drops its listener.
func (c *Client) Unsubscribe(ctx context.Context, svc *types.Service, sid string) error {
	req, err := http.NewRequestWithContext(ctx, "UNSUBSCRIBE", svc.EventSubscriptionURL, nil)
	if err != nil {
		return fmt.Errorf("gena: build unsubscribe request: %w", err)
	}
	req.Header.Set("SID", sid)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("gena: unsubscribe: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	c.mu.Lock()
	delete(c.listeners, sid)
	delete(c.sequences, sid)
	c.mu.Unlock()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gena: unsubscribe failed, status %d", resp.StatusCode)
	}
	return nil
}

// Handler is the inbound NOTIFY endpoint; mount it at c.CallbackURL's
// path.
func (c *Client) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "NOTIFY" {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		sid := r.Header.Get("SID")
		seqHeader := r.Header.Get("SEQ")

		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read body", http.StatusBadRequest)
			return
		}

		c.mu.Lock()
		cb, ok := c.listeners[sid]
		c.mu.Unlock()
		if !ok {
			http.Error(w, "unknown sid", http.StatusPreconditionFailed)
			return
		}

		seq, _ := strconv.ParseUint(seqHeader, 10, 32)
		cb(types.SubscriptionEvent{Sid: sid, Data: string(body), Sequence: uint32(seq)})

		w.WriteHeader(http.StatusOK)
	}
}

func formatTimeoutHeader(d time.Duration) string {
	if d <= 0 {
		return "Second-infinite"
	}
	return fmt.Sprintf("Second-%d", int(d/time.Second))
}

func parseTimeoutHeader(val string) time.Duration {
	val = strings.TrimPrefix(val, "Second-")
	if val == "infinite" {
		return 0
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return time.Duration(n) * time.Second
}
