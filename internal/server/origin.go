package server

import (
	"net"
	"net/url"
	"strconv"
)

// originPolicy admits browsers on the server's own address, on localhost
// and 127.0.0.1 at the server's port, and any origin listed in
// server.allowed_origins.
type originPolicy struct {
	hosts   map[string]bool
	origins map[string]bool
}

func newOriginPolicy(opts Options) *originPolicy {
	p := &originPolicy{
		hosts:   make(map[string]bool),
		origins: make(map[string]bool),
	}

	p.hosts[opts.Addr] = true
	if _, port, err := net.SplitHostPort(opts.Addr); err == nil {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			p.hosts[net.JoinHostPort("localhost", port)] = true
			p.hosts[net.JoinHostPort("127.0.0.1", port)] = true
		}
	}
	for _, o := range opts.AllowedOrigins {
		p.origins[o] = true
	}
	return p
}

func (p *originPolicy) IsAllowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	if p.origins[origin] {
		return true
	}

	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return p.hosts[u.Host]
}
