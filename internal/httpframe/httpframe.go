// Package httpframe converts between net/http's header representation
// and the frame package's ordered header list, applying hop-by-hop
// stripping on both legs of a proxied request: public request →
// frame on the server side, frame → local origin request and back on
// the agent side.
package httpframe

import (
	"net/http"
	"sort"

	"github.com/tunnelforge/tunneld/internal/frame"
)

// HopByHop is the header set that must never traverse a proxy.
var HopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
}

// ToFrame converts an http.Header into the ordered Header list the
// frame codec carries, stripping hop-by-hop entries. net/http parses
// headers into a map keyed by canonical name, which already loses the
// original wire order across distinct header names; keys are walked
// in sorted order so the result is at least deterministic rather than
// dependent on Go's map iteration.
func ToFrame(h http.Header) []frame.Header {
	keys := make([]string, 0, len(h))
	for k := range h {
		if HopByHop[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []frame.Header
	for _, k := range keys {
		for _, v := range h[k] {
			out = append(out, frame.Header{Key: k, Value: v})
		}
	}
	return out
}

// Apply writes headers onto dst, skipping any hop-by-hop entry the
// remote side sent anyway.
func Apply(dst http.Header, headers []frame.Header) {
	for _, h := range headers {
		if HopByHop[http.CanonicalHeaderKey(h.Key)] {
			continue
		}
		dst.Add(h.Key, h.Value)
	}
}
