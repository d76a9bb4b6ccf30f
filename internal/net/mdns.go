package net

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service hosts advertise on the local network.
const ServiceType = "_couplecanvas._tcp"

// Host is a server found on the local network.
type Host struct {
	Name string
	Addr string
	// Slug of the canvas the host is sharing, if it said.
	Slug string
}

// Advertise announces a server listening on port. The slug of the shared
// canvas travels in the TXT record. Shutdown the returned server to stop.
func Advertise(name string, port int, slug string) (*mdns.Server, error) {
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not get hostname: %w", err)
	}
	if name == "" {
		name = host
	}
	info := []string{"CoupleCanvas"}
	if slug != "" {
		info = append(info, "slug="+slug)
	}
	service, err := mdns.NewMDNSService(name, ServiceType, "", "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, fmt.Errorf("failed to start mDNS server: %w", err)
	}
	glog.Infof("[mdns] advertising %s on port %d", name, port)
	return server, nil
}

// Browse looks for hosts for up to timeout and calls found for each one
// with a usable IPv4 address.
func Browse(timeout time.Duration, found func(Host)) error {
	entries := make(chan *mdns.ServiceEntry, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if h, ok := hostOf(e); ok {
				found(h)
			}
		}
	}()
	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done
	return err
}

func hostOf(e *mdns.ServiceEntry) (Host, bool) {
	if e == nil || e.AddrV4 == nil || e.Port == 0 {
		return Host{}, false
	}
	h := Host{
		Name: strings.TrimSuffix(e.Name, "."+ServiceType+".local."),
		Addr: net.JoinHostPort(e.AddrV4.String(), fmt.Sprint(e.Port)),
	}
	for _, field := range e.InfoFields {
		if v, ok := strings.CutPrefix(field, "slug="); ok {
			h.Slug = v
		}
	}
	glog.V(1).Infof("[mdns] found %s at %s", h.Name, h.Addr)
	return h, true
}
