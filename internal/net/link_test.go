package net

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestShareLink(t *testing.T) {
	link := ShareLink("192.168.1.20", 8080, "k3x9qa")
	assert.Equal(t, "couplecanvas://192.168.1.20:8080/k3x9qa", link)

	addr, slug, err := ParseShareLink(" " + link + " ")
	assert.Equal(t, nil, err)
	assert.Equal(t, "192.168.1.20:8080", addr)
	assert.Equal(t, "k3x9qa", slug)
	assert.Equal(t, "ws://192.168.1.20:8080/ws", WebSocketURL(addr))
}

func TestParseShareLinkRejects(t *testing.T) {
	for _, link := range []string{
		"http://192.168.1.20:8080/abc",
		"couplecanvas://192.168.1.20/abc",
		"::not a link",
	} {
		_, _, err := ParseShareLink(link)
		assert.NotEqual(t, nil, err)
	}

	addr, slug, err := ParseShareLink("couplecanvas://10.0.0.2:9000")
	assert.Equal(t, nil, err)
	assert.Equal(t, "10.0.0.2:9000", addr)
	assert.Equal(t, "", slug)
}
