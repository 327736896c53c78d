package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// publicDNS are queried when the system resolver fails.
var publicDNS = []string{
	"1.1.1.1",                // Cloudflare
	"1.0.0.1",                // Cloudflare
	"[2606:4700:4700::1111]", // Cloudflare
	"8.8.8.8",                // Google
	"8.8.4.4",                // Google
	"[2001:4860:4860::8888]", // Google
	"9.9.9.9",                // Quad9
	"149.112.112.112",        // Quad9
	"208.67.222.222",         // Cisco OpenDNS
	"208.67.220.220",         // Cisco OpenDNS
}

const (
	localTimeout  = time.Second
	publicTimeout = 2 * time.Second
)

var errNoAddresses = errors.New("no IP addresses found")

// Lookup resolves host to a single IP, preferring IPv4. It tries the system
// resolver first and then races the public resolvers. IP literals are
// returned unchanged.
func Lookup(ctx context.Context, host string) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return host, nil
	}

	localCtx, cancel := context.WithTimeout(ctx, localTimeout)
	ip, err := lookupWith(localCtx, net.DefaultResolver, host)
	cancel()
	if err == nil {
		return ip, nil
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	return raceServers(ctx, host, publicDNS)
}

// DialContext dials addr after resolving its host with Lookup. It has the
// shape of net.Dialer.DialContext for use in websocket dialers.
func DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ip, err := Lookup(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dns lookup failed: %w", err)
	}
	var d net.Dialer
	return d.DialContext(ctx, network, net.JoinHostPort(ip, port))
}

func raceServers(ctx context.Context, host string, servers []string) (string, error) {
	type result struct {
		ip  string
		err error
	}

	ctx, cancel := context.WithTimeout(ctx, publicTimeout)
	defer cancel()

	results := make(chan result, len(servers))
	for _, server := range servers {
		go func(server string) {
			ip, err := lookupWith(ctx, resolverFor(server), host)
			results <- result{ip: ip, err: err}
		}(server)
	}

	failures := 0
	for range servers {
		select {
		case res := <-results:
			if res.err == nil {
				return res.ip, nil
			}
			failures++
		case <-ctx.Done():
			return "", fmt.Errorf("resolve %s: public DNS race: %w", host, ctx.Err())
		}
	}
	return "", fmt.Errorf("resolve %s: all %d public DNS servers failed", host, failures)
}

// resolverFor forces every query to server on port 53.
func resolverFor(server string) *net.Resolver {
	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(trimBrackets(server), "53"))
		},
	}
}

func lookupWith(ctx context.Context, r *net.Resolver, host string) (string, error) {
	ips, err := r.LookupHost(ctx, host)
	if err != nil {
		return "", err
	}
	return preferIPv4(ips)
}

func preferIPv4(ips []string) (string, error) {
	if len(ips) == 0 {
		return "", errNoAddresses
	}
	for _, ip := range ips {
		if parsed := net.ParseIP(ip); parsed != nil && parsed.To4() != nil {
			return ip, nil
		}
	}
	return ips[0], nil
}

func trimBrackets(s string) string {
	if len(s) >= 2 && s[0] == '[' && s[len(s)-1] == ']' {
		return s[1 : len(s)-1]
	}
	return s
}
