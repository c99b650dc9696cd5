// Package scanner implements the device scanner of spec.md §4.5: it
// consumes SSDP client notifications, filters by desired device
// type(s)/minimum version, downloads and parses device descriptions,
// and maintains a udn -> Device map with expiry.
package scanner

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/wysentanu/upnpcore/internal/ioloop"
	"github.com/wysentanu/upnpcore/internal/ssdp"
	"github.com/wysentanu/upnpcore/internal/types"
)

// Getter is the capability a scanner needs from its client: fetch a
// URL's body. The spec calls this IClient; we keep it minimal so tests
// can supply a mock without satisfying a wider interface.
type Getter interface {
	GetFile(ctx context.Context, url string) ([]byte, error)
}

// HTTPGetter is the production Getter, a thin net/http client.
type HTTPGetter struct {
	Client *http.Client
}

// NewHTTPGetter returns a Getter backed by a real HTTP client with a
// sane timeout.
func NewHTTPGetter() *HTTPGetter {
	return &HTTPGetter{Client: &http.Client{Timeout: 10 * time.Second}}
}

func (g *HTTPGetter) GetFile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scanner: GET %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// WantedType is one requested {kind, minVersion} filter.
type WantedType struct {
	Kind       types.DeviceKind
	MinVersion uint8
}

// Scanner maintains the live device inventory described by spec.md §4.5.
type Scanner struct {
	loop   *ioloop.Loop
	client *ssdp.Client
	getter Getter
	wanted []WantedType

	mu      sync.Mutex
	devices map[string]*types.Device

	onDiscovered  func(*types.Device)
	onDisappeared func(*types.Device)

	expiryTimer *ioloop.Timer
}

// New creates a Scanner scheduled on loop, wanting any of wantedTypes.
func New(loop *ioloop.Loop, getter Getter, wantedTypes []WantedType) *Scanner {
	s := &Scanner{
		loop:    loop,
		getter:  getter,
		wanted:  wantedTypes,
		devices: make(map[string]*types.Device),
	}
	s.client = ssdp.NewClient(loop, 0)
	s.client.SetNotificationCallback(s.onNotification)
	return s
}

// SetDiscoveredCallback installs the Discovered signal handler.
func (s *Scanner) SetDiscoveredCallback(cb func(*types.Device)) { s.onDiscovered = cb }

// SetDisappearedCallback installs the Disappeared signal handler.
func (s *Scanner) SetDisappearedCallback(cb func(*types.Device)) { s.onDisappeared = cb }

// Start runs the SSDP client and begins the 60s expiry sweep. All of
// this is posted onto the loop, matching the spec's "on start, posts
// to the loop" requirement.
func (s *Scanner) Start() {
	s.loop.Post(func() {
		if err := s.client.Run(""); err != nil {
			log.Printf("[scanner] failed to start ssdp client: %v", err)
			return
		}
		s.expiryTimer = s.loop.NewTimer()
		s.expiryTimer.Start(60*time.Second, 60*time.Second, s.sweepExpired)
		s.Refresh()
	})
}

// Refresh re-issues an M-SEARCH: targeting the single requested device
// type if exactly one is configured, else "ssdp:all".
func (s *Scanner) Refresh() {
	s.loop.Post(func() {
		target := "ssdp:all"
		if len(s.wanted) == 1 {
			target = types.FormatDeviceURN(types.DeviceType{Kind: s.wanted[0].Kind})
		}
		s.client.Search(target, nil)
	})
}

// Stop shuts the scanner down.
func (s *Scanner) Stop(cb func()) {
	s.loop.Post(func() {
		if s.expiryTimer != nil {
			s.expiryTimer.Stop()
		}
		s.client.Close(cb)
	})
}

// Devices returns a snapshot of the current device map.
func (s *Scanner) Devices() []*types.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Device, 0, len(s.devices))
	for _, d := range s.devices {
		out = append(out, d)
	}
	return out
}

func (s *Scanner) onNotification(info types.DeviceNotificationInfo) {
	switch info.Notification {
	case types.Alive:
		s.handleAlive(info)
	case types.ByeBye:
		s.handleByeBye(info)
	}
}

func (s *Scanner) wantsType(dt types.DeviceType) bool {
	if len(s.wanted) == 0 {
		return true
	}
	for _, w := range s.wanted {
		if w.Kind == dt.Kind && dt.Version >= w.MinVersion {
			return true
		}
	}
	return false
}

func (s *Scanner) handleAlive(info types.DeviceNotificationInfo) {
	dt, err := types.ParseDeviceURN(info.DeviceType)
	if err != nil {
		// NT may legitimately be a service urn for multi-notify bursts;
		// those aren't device-type announcements we track here.
		return
	}
	if !s.wantsType(dt) {
		return
	}

	s.mu.Lock()
	existing, ok := s.devices[info.DeviceID]
	s.mu.Unlock()

	now := time.Now()

	if ok {
		if existing.Location == info.Location {
			s.mu.Lock()
			existing.Refresh(now, info.ExpirationTime)
			s.mu.Unlock()
			return
		}

		s.mu.Lock()
		existing.Refresh(now, info.ExpirationTime)
		s.mu.Unlock()
		s.fetchAndMerge(info.Location, existing)
		return
	}

	s.fetchAndInsert(info)
}

func (s *Scanner) fetchAndInsert(info types.DeviceNotificationInfo) {
	go func() {
		body, err := s.getter.GetFile(context.Background(), info.Location)
		if err != nil {
			log.Printf("[scanner] GET %s failed: %v", info.Location, err)
			return
		}
		dev, err := types.ParseDeviceDescription(body, info.Location)
		if err != nil {
			log.Printf("[scanner] parse device description %s failed: %v", info.Location, err)
			return
		}
		dev.Refresh(time.Now(), info.ExpirationTime)

		s.loop.Post(func() {
			s.mu.Lock()
			_, already := s.devices[dev.Udn]
			if !already {
				s.devices[dev.Udn] = dev
			}
			s.mu.Unlock()

			if !already && s.onDiscovered != nil {
				s.onDiscovered(dev)
			}
		})
	}()
}

func (s *Scanner) fetchAndMerge(location string, existing *types.Device) {
	go func() {
		body, err := s.getter.GetFile(context.Background(), location)
		if err != nil {
			log.Printf("[scanner] GET %s failed: %v", location, err)
			return
		}
		dev, err := types.ParseDeviceDescription(body, location)
		if err != nil {
			log.Printf("[scanner] parse device description %s failed: %v", location, err)
			return
		}

		s.loop.Post(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			cur, ok := s.devices[existing.Udn]
			if !ok {
				return
			}
			timeout := cur.TimeoutTime
			*cur = *dev
			cur.TimeoutTime = timeout
		})
	}()
}

func (s *Scanner) handleByeBye(info types.DeviceNotificationInfo) {
	s.mu.Lock()
	dev, ok := s.devices[info.DeviceID]
	if ok {
		delete(s.devices, info.DeviceID)
	}
	s.mu.Unlock()

	if ok && s.onDisappeared != nil {
		s.onDisappeared(dev)
	}
}

func (s *Scanner) sweepExpired() {
	now := time.Now()

	s.mu.Lock()
	var expired []*types.Device
	for udn, dev := range s.devices {
		if dev.Expired(now) {
			expired = append(expired, dev)
			delete(s.devices, udn)
		}
	}
	s.mu.Unlock()

	for _, dev := range expired {
		if s.onDisappeared != nil {
			s.onDisappeared(dev)
		}
	}
}
