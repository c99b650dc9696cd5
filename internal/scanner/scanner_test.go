package scanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wysentanu/upnpcore/internal/ioloop"
	"github.com/wysentanu/upnpcore/internal/types"
)

const testDeviceXML = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
<specVersion><major>1</major><minor>0</minor></specVersion>
<device>
<deviceType>urn:schemas-upnp-org:device:MediaServer:1</deviceType>
<friendlyName>Test Server</friendlyName>
<UDN>uuid:5a10ba50-6e4a-11e2-bcfd-0800200c9a66</UDN>
</device>
</root>`

type fakeGetter struct {
	mu    sync.Mutex
	bodyFor map[string]string
}

func (g *fakeGetter) GetFile(ctx context.Context, url string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return []byte(g.bodyFor[url]), nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestScannerDiscoversAliveDevice(t *testing.T) {
	loop := ioloop.New()
	go loop.Run()
	defer loop.Stop()

	getter := &fakeGetter{bodyFor: map[string]string{
		"http://192.168.1.5:8080/device.xml": testDeviceXML,
	}}

	sc := New(loop, getter, nil)

	var discovered *types.Device
	var mu sync.Mutex
	sc.SetDiscoveredCallback(func(dev *types.Device) {
		mu.Lock()
		discovered = dev
		mu.Unlock()
	})

	loop.PostSync(func() {
		sc.onNotification(types.DeviceNotificationInfo{
			DeviceID:       "uuid:5a10ba50-6e4a-11e2-bcfd-0800200c9a66",
			DeviceType:     "urn:schemas-upnp-org:device:MediaServer:1",
			Location:       "http://192.168.1.5:8080/device.xml",
			ExpirationTime: 1800 * time.Second,
			Notification:   types.Alive,
		})
	})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return discovered != nil
	})

	mu.Lock()
	defer mu.Unlock()
	if discovered.FriendlyName != "Test Server" {
		t.Errorf("FriendlyName = %q", discovered.FriendlyName)
	}
}

func TestScannerDuplicateAliveDoesNotRediscover(t *testing.T) {
	loop := ioloop.New()
	go loop.Run()
	defer loop.Stop()

	getter := &fakeGetter{bodyFor: map[string]string{
		"http://192.168.1.5:8080/device.xml": testDeviceXML,
	}}
	sc := New(loop, getter, nil)

	var discoverCount int
	var mu sync.Mutex
	sc.SetDiscoveredCallback(func(dev *types.Device) {
		mu.Lock()
		discoverCount++
		mu.Unlock()
	})

	info := types.DeviceNotificationInfo{
		DeviceID:       "uuid:5a10ba50-6e4a-11e2-bcfd-0800200c9a66",
		DeviceType:     "urn:schemas-upnp-org:device:MediaServer:1",
		Location:       "http://192.168.1.5:8080/device.xml",
		ExpirationTime: 1800 * time.Second,
		Notification:   types.Alive,
	}

	loop.PostSync(func() { sc.onNotification(info) })
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return discoverCount == 1
	})

	// A second alive for the same device at the same location is just
	// a refresh, not a rediscovery.
	loop.PostSync(func() { sc.onNotification(info) })
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if discoverCount != 1 {
		t.Fatalf("discoverCount = %d, want 1", discoverCount)
	}
}

func TestScannerByeByeRemovesDevice(t *testing.T) {
	loop := ioloop.New()
	go loop.Run()
	defer loop.Stop()

	getter := &fakeGetter{bodyFor: map[string]string{
		"http://192.168.1.5:8080/device.xml": testDeviceXML,
	}}
	sc := New(loop, getter, nil)

	aliveInfo := types.DeviceNotificationInfo{
		DeviceID:       "uuid:5a10ba50-6e4a-11e2-bcfd-0800200c9a66",
		DeviceType:     "urn:schemas-upnp-org:device:MediaServer:1",
		Location:       "http://192.168.1.5:8080/device.xml",
		ExpirationTime: 1800 * time.Second,
		Notification:   types.Alive,
	}
	loop.PostSync(func() { sc.onNotification(aliveInfo) })
	waitFor(t, func() bool { return len(sc.Devices()) == 1 })

	var disappeared bool
	var mu sync.Mutex
	sc.SetDisappearedCallback(func(dev *types.Device) {
		mu.Lock()
		disappeared = true
		mu.Unlock()
	})

	byebyeInfo := aliveInfo
	byebyeInfo.Notification = types.ByeBye
	loop.PostSync(func() { sc.onNotification(byebyeInfo) })

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disappeared
	})
	if len(sc.Devices()) != 0 {
		t.Fatalf("device map still has %d entries after byebye", len(sc.Devices()))
	}
}

func TestScannerFiltersByWantedType(t *testing.T) {
	loop := ioloop.New()
	go loop.Run()
	defer loop.Stop()

	getter := &fakeGetter{bodyFor: map[string]string{}}
	sc := New(loop, getter, []WantedType{{Kind: types.MediaRenderer}})

	var discoverCount int
	var mu sync.Mutex
	sc.SetDiscoveredCallback(func(dev *types.Device) {
		mu.Lock()
		discoverCount++
		mu.Unlock()
	})

	// A MediaServer announcement should be ignored since only
	// MediaRenderer was requested.
	loop.PostSync(func() {
		sc.onNotification(types.DeviceNotificationInfo{
			DeviceID:       "uuid:5a10ba50-6e4a-11e2-bcfd-0800200c9a66",
			DeviceType:     "urn:schemas-upnp-org:device:MediaServer:1",
			Location:       "http://192.168.1.5:8080/device.xml",
			ExpirationTime: 1800 * time.Second,
			Notification:   types.Alive,
		})
	})

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if discoverCount != 0 {
		t.Fatalf("discoverCount = %d, want 0 for a filtered-out device type", discoverCount)
	}
}
