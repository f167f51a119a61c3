package middleware

import (
	"net/http"
	"strings"

	"github.com/contentsquare/counterd/config"
)

const (
	xForwardedForHeader = "X-Forwarded-For"
	xRealIPHeader       = "X-Real-Ip"
	forwardedHeader     = "Forwarded"
)

// RealIP replaces r.RemoteAddr with the client address announced
// by a reverse proxy in front of the server.
type RealIP struct {
	proxy config.Proxy

	next http.Handler
}

func NewRealIP(proxy config.Proxy, next http.Handler) *RealIP {
	return &RealIP{
		proxy: proxy,
		next:  next,
	}
}

func (m *RealIP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if addr := m.getIP(r); addr != "" {
		r.RemoteAddr = addr
	}
	m.next.ServeHTTP(w, r)
}

func (m *RealIP) getIP(r *http.Request) string {
	if !m.proxy.Enable {
		return r.RemoteAddr
	}
	if m.proxy.Header != "" {
		return extractFirstMatchFromIPList(r.Header.Get(m.proxy.Header))
	}
	return parseDefaultProxyHeaders(r)
}

func parseDefaultProxyHeaders(r *http.Request) string {
	var addr string

	if fwd := r.Header.Get(xForwardedForHeader); fwd != "" {
		addr = extractFirstMatchFromIPList(fwd)
	} else if fwd := r.Header.Get(xRealIPHeader); fwd != "" {
		addr = extractFirstMatchFromIPList(fwd)
	} else if fwd := r.Header.Get(forwardedHeader); fwd != "" {
		// See: https://tools.ietf.org/html/rfc7239.
		addr = parseForwardedHeader(fwd)
	}

	return addr
}

func extractFirstMatchFromIPList(ipList string) string {
	if ipList == "" {
		return ""
	}
	s := strings.IndexByte(ipList, ',')
	if s == -1 {
		s = len(ipList)
	}

	return strings.TrimSpace(ipList[:s])
}

func parseForwardedHeader(fwd string) string {
	for _, split := range strings.Split(fwd, ";") {
		for _, pair := range strings.Split(split, ",") {
			trimmed := strings.TrimSpace(pair)
			if len(trimmed) > 4 && strings.EqualFold(trimmed[:4], "for=") {
				return strings.Trim(trimmed[4:], `"`)
			}
		}
	}

	return ""
}
