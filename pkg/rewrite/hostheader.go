// Package rewrite implements the one-shot HTTP Host header rewrite a
// bridge applies to the remote-to-local byte stream.
package rewrite

import "regexp"

var hostHeader = regexp.MustCompile(`\r\nHost: \S+`)

// HostHeaderRewriter is a stateful, one-shot stream transform: the
// first chunk that contains a "Host: <value>" header has that value
// replaced with localAddress; every chunk after the first match (or
// every chunk at all, if none ever matches) passes through unchanged.
//
// It operates on a single chunk at a time and will not rewrite a Host
// header split across two chunks — this is a known limitation of the
// protocol being implemented, not an oversight; a caller that needs to
// close that gap can buffer up to the first CRLF-CRLF before handing
// chunks to Apply.
type HostHeaderRewriter struct {
	localAddress string
	replaced     bool
}

// New constructs a HostHeaderRewriter that rewrites Host header values
// to localAddress.
func New(localAddress string) *HostHeaderRewriter {
	return &HostHeaderRewriter{localAddress: localAddress}
}

// Active reports whether rewriting should be applied at all for this
// local address: loopback targets already carry a valid Host header,
// so rewriting is skipped entirely.
func Active(localAddress string) bool {
	return localAddress != "localhost"
}

// Apply rewrites the first Host header occurrence in chunk, if any,
// and if this rewriter hasn't already fired once. It returns chunk
// unchanged (not copied) when no rewrite is needed.
func (h *HostHeaderRewriter) Apply(chunk []byte) []byte {
	if h.replaced {
		return chunk
	}

	loc := hostHeader.FindIndex(chunk)
	if loc == nil {
		return chunk
	}

	out := make([]byte, 0, len(chunk)+len(h.localAddress))
	out = append(out, chunk[:loc[0]]...)
	out = append(out, []byte("\r\nHost: "+h.localAddress)...)
	out = append(out, chunk[loc[1]:]...)

	h.replaced = true
	return out
}
