package net

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// LinkScheme prefixes share links.
const LinkScheme = "couplecanvas"

// ShareLink builds the link a host hands to someone joining its canvas.
func ShareLink(ip string, port int, slug string) string {
	u := url.URL{
		Scheme: LinkScheme,
		Host:   net.JoinHostPort(ip, strconv.Itoa(port)),
		Path:   "/" + slug,
	}
	return u.String()
}

// ParseShareLink returns the host:port and canvas slug of a share link.
// The slug may be empty, in which case the host picks.
func ParseShareLink(link string) (addr, slug string, err error) {
	u, err := url.Parse(strings.TrimSpace(link))
	if err != nil {
		return "", "", fmt.Errorf("invalid link: %w", err)
	}
	if u.Scheme != LinkScheme {
		return "", "", fmt.Errorf("invalid link: scheme must be %s://", LinkScheme)
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		return "", "", fmt.Errorf("invalid link: %w", err)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// WebSocketURL is the server endpoint at addr.
func WebSocketURL(addr string) string {
	u := url.URL{Scheme: "ws", Host: addr, Path: WebSocketPath}
	return u.String()
}
