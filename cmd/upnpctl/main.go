// Command upnpctl is the thin exerciser for the upnpcore runtime: it
// discovers devices, describes them, serves a local device, subscribes
// to a service's events, and sends control actions, all from one CLI
// the way the teacher's cmd/server exposes its media-server surface.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/wysentanu/upnpcore/internal/config"
	"github.com/wysentanu/upnpcore/internal/gena"
	"github.com/wysentanu/upnpcore/internal/ioloop"
	"github.com/wysentanu/upnpcore/internal/registry"
	"github.com/wysentanu/upnpcore/internal/scanner"
	"github.com/wysentanu/upnpcore/internal/soap"
	"github.com/wysentanu/upnpcore/internal/ssdp"
	"github.com/wysentanu/upnpcore/internal/types"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "discover":
		cmdDiscover(os.Args[2:])
	case "describe":
		cmdDescribe(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	case "subscribe":
		cmdSubscribe(os.Args[2:])
	case "action":
		cmdAction(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: upnpctl <command> [args]

commands:
  discover [deviceType]             scan the network and print devices found
  describe <uuid>                   scan for a device and print its parsed description
  serve                             run a local root device and answer SSDP/GENA/SOAP traffic
  subscribe <uuid> <service>        subscribe to a service's events and print NOTIFYs
  action <uuid> <service> <action> [k=v ...]   send a SOAP control action
  status                            print devices seen so far from the diagnostic registry`)
}

// registryPath returns the diagnostic SQLite registry's path, overridable
// via UPNP_REGISTRY_PATH so multiple local runs don't trample one another.
func registryPath() string {
	if val := os.Getenv("UPNP_REGISTRY_PATH"); val != "" {
		return val
	}
	return filepath.Join(os.TempDir(), "upnpcore-registry.db")
}

func cmdDiscover(args []string) {
	loop := ioloop.New()
	go loop.Run()
	defer loop.Stop()

	var wanted []scanner.WantedType
	if len(args) > 0 {
		dt, err := types.ParseDeviceURN(args[0])
		if err != nil {
			log.Fatalf("bad device type %q: %v", args[0], err)
		}
		wanted = []scanner.WantedType{{Kind: dt.Kind, MinVersion: dt.Version}}
	}

	reg, err := registry.Open(registryPath())
	if err != nil {
		log.Fatalf("open registry: %v", err)
	}
	defer reg.Close()

	sc := scanner.New(loop, scanner.NewHTTPGetter(), wanted)
	sc.SetDiscoveredCallback(func(dev *types.Device) {
		fmt.Printf("+ %-20s %-40s %s\n", dev.FriendlyName, dev.Udn, types.FormatDeviceURN(dev.Type))
		if err := reg.RecordSighting(dev); err != nil {
			log.Printf("registry: record sighting: %v", err)
		}
	})
	sc.SetDisappearedCallback(func(dev *types.Device) {
		fmt.Printf("- %-20s %-40s\n", dev.FriendlyName, dev.Udn)
		if err := reg.RecordDeparture(dev.Udn); err != nil {
			log.Printf("registry: record departure: %v", err)
		}
	})
	sc.Start()

	time.Sleep(5 * time.Second)

	done := make(chan struct{})
	sc.Stop(func() { close(done) })
	<-done
}

func cmdDescribe(args []string) {
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}
	udn := args[0]

	loop := ioloop.New()
	go loop.Run()
	defer loop.Stop()

	sc := scanner.New(loop, scanner.NewHTTPGetter(), nil)
	found := make(chan *types.Device, 1)
	sc.SetDiscoveredCallback(func(dev *types.Device) {
		if dev.Udn == udn || "uuid:"+dev.Udn == udn {
			select {
			case found <- dev:
			default:
			}
		}
	})
	sc.Start()

	select {
	case dev := <-found:
		printDevice(dev)
	case <-time.After(5 * time.Second):
		log.Fatalf("device %s not found", udn)
	}

	done := make(chan struct{})
	sc.Stop(func() { close(done) })
	<-done
}

func printDevice(dev *types.Device) {
	fmt.Printf("FriendlyName: %s\n", dev.FriendlyName)
	fmt.Printf("UDN:          %s\n", dev.Udn)
	fmt.Printf("Type:         %s\n", types.FormatDeviceURN(dev.Type))
	fmt.Printf("Location:     %s\n", dev.Location)
	for kind, svc := range dev.Services {
		fmt.Printf("  service %v: %s\n", kind, types.FormatServiceURN(svc.Type))
		fmt.Printf("    control:   %s\n", svc.ControlURL)
		fmt.Printf("    eventSub:  %s\n", svc.EventSubscriptionURL)
	}
}

func cmdServe(args []string) {
	cfg := config.DefaultConfig()
	cfg.LoadFromEnv()

	ip := localIP()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.HTTPPort))
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port
	location := fmt.Sprintf("http://%s:%d/device.xml", ip, actualPort)

	device := &types.Device{
		Type:         cfg.DeviceType(),
		FriendlyName: cfg.FriendlyName,
		Udn:          cfg.UUID,
		Location:     location,
		RelURL:       "/device.xml",
		Services:     map[types.ServiceKind]*types.Service{},
	}

	genaSrv := gena.NewServer(device)
	genaSrv.DeviceDescriptionXML = func() []byte {
		return []byte(fmt.Sprintf(`<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
<specVersion><major>1</major><minor>0</minor></specVersion>
<device>
<deviceType>%s</deviceType>
<friendlyName>%s</friendlyName>
<UDN>uuid:%s</UDN>
</device>
</root>`, types.FormatDeviceURN(device.Type), device.FriendlyName, device.Udn))
	}

	mux := genaSrv.Mux()
	httpSrv := &http.Server{Handler: mux}
	log.Printf("serving device description at http://%s:%d/device.xml", ip, actualPort)

	go func() {
		if err := httpSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http serve: %v", err)
		}
	}()

	loop := ioloop.New()
	go loop.Run()

	ssdpSrv := ssdp.NewServer(loop)
	if err := ssdpSrv.Run(device, cfg.AdvertiseInterval); err != nil {
		log.Fatalf("ssdp server: %v", err)
	}

	sweepTimer := loop.NewTimer()
	sweepTimer.Start(time.Second, time.Second, genaSrv.SweepExpired)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("shutting down...")
	sweepTimer.Stop()
	done := make(chan struct{})
	ssdpSrv.Stop(func() { close(done) })
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpSrv.Shutdown(shutdownCtx)
	loop.Stop()
}

func cmdSubscribe(args []string) {
	if len(args) < 2 {
		usage()
		os.Exit(1)
	}
	udn := args[0]
	svcURN := args[1]

	svcType, err := types.ParseServiceURN(svcURN)
	if err != nil {
		log.Fatalf("bad service type %q: %v", svcURN, err)
	}

	loop := ioloop.New()
	go loop.Run()
	defer loop.Stop()

	sc := scanner.New(loop, scanner.NewHTTPGetter(), nil)
	found := make(chan *types.Device, 1)
	sc.SetDiscoveredCallback(func(dev *types.Device) {
		if dev.Udn == udn || "uuid:"+dev.Udn == udn {
			select {
			case found <- dev:
			default:
			}
		}
	})
	sc.Start()

	var dev *types.Device
	select {
	case dev = <-found:
	case <-time.After(5 * time.Second):
		log.Fatalf("device %s not found", udn)
	}

	scanDone := make(chan struct{})
	sc.Stop(func() { close(scanDone) })
	<-scanDone

	svc, ok := dev.Services[svcType.Kind]
	if !ok {
		log.Fatalf("device %s has no %s service", udn, svcURN)
	}

	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		log.Fatalf("listen for notify callback: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	callbackURL := fmt.Sprintf("http://%s:%d/notify", localIP(), port)

	client := gena.NewClient(callbackURL)
	mux := http.NewServeMux()
	mux.HandleFunc("/notify", client.Handler())
	callbackSrv := &http.Server{Handler: mux}
	go func() {
		if err := callbackSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Fatalf("callback server: %v", err)
		}
	}()

	sid, timeout, err := client.Subscribe(context.Background(), svc, 0, func(ev types.SubscriptionEvent) {
		fmt.Printf("NOTIFY seq=%d: %s\n", ev.Sequence, ev.Data)
	})
	if err != nil {
		log.Fatalf("subscribe: %v", err)
	}
	log.Printf("subscribed sid=%s timeout=%s, printing NOTIFYs until interrupted", sid, timeout)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("unsubscribing...")
	unsubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := client.Unsubscribe(unsubCtx, svc, sid); err != nil {
		log.Printf("unsubscribe: %v", err)
	}
	cancel()

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	callbackSrv.Shutdown(shutdownCtx)
}

func cmdStatus(args []string) {
	reg, err := registry.Open(registryPath())
	if err != nil {
		log.Fatalf("open registry: %v", err)
	}
	defer reg.Close()

	sightings, err := reg.All()
	if err != nil {
		log.Fatalf("read registry: %v", err)
	}
	if len(sightings) == 0 {
		fmt.Println("no devices recorded yet")
		return
	}
	for _, s := range sightings {
		fmt.Printf("%-40s %-24s %-30s first seen %-14s last seen %-14s\n",
			s.Udn, s.DeviceType, s.FriendlyName, s.FirstSeenAgo, s.LastSeenAgo)
	}
}

func cmdAction(args []string) {
	if len(args) < 3 {
		usage()
		os.Exit(1)
	}
	svcURN := args[1]
	actionName := args[2]

	svcType, err := types.ParseServiceURN(svcURN)
	if err != nil {
		log.Fatalf("bad service type %q: %v", svcURN, err)
	}

	var kvArgs []string
	if len(args) > 3 {
		joined, err := shellquote.Split(joinArgs(args[3:]))
		if err != nil {
			log.Fatalf("bad action arguments: %v", err)
		}
		kvArgs = joined
	}

	var soapArgs []types.Argument
	for _, kv := range kvArgs {
		name, value := splitKV(kv)
		soapArgs = append(soapArgs, types.Argument{Name: name, Value: value})
	}

	action := types.Action{
		Name:        actionName,
		ServiceType: svcType,
		ControlURL:  os.Getenv("UPNP_CONTROL_URL"),
		Arguments:   soapArgs,
	}
	if action.ControlURL == "" {
		log.Fatalf("set UPNP_CONTROL_URL to the target service's control endpoint (from `describe`)")
	}

	client := soap.NewClient()
	result, err := client.SendAction(context.Background(), action)
	if err != nil {
		log.Fatalf("send action: %v", err)
	}
	if !result.Success {
		log.Fatalf("action faulted: status=%d code=%d desc=%s", result.FaultStatus, result.FaultCode, result.FaultDesc)
	}
	fmt.Println(result.Response)
}

func joinArgs(args []string) string {
	out := args[0]
	for _, a := range args[1:] {
		out += " " + a
	}
	return out
}

func splitKV(kv string) (name, value string) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:]
		}
	}
	return kv, ""
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
			if ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}
