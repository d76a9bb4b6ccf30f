package net

import (
	"net"

	"github.com/golang/glog"
)

// GetOutgoingIP finds the address other machines on the network should use
// to reach this host.
func GetOutgoingIP() (string, error) {
	// no packet is sent; dialing UDP only picks a route
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return localIP()
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// localIP is used on networks without a default route.
func localIP() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String(), nil
			}
		}
	}
	glog.Warning("[net] no usable interface address, share links will use loopback")
	return "127.0.0.1", nil
}
