package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultListenAddr      = ":3000"
	DefaultMaxMessageBytes = 64 * 1024
	DefaultShutdownTimeout = 10 * time.Second
)

const (
	envListenAddr      = "TABTALK_LISTEN_ADDR"
	envStrictRooms     = "TABTALK_STRICT_ROOMS"
	envMaxMessageBytes = "TABTALK_MAX_MESSAGE_BYTES"
	envAllowedOrigins  = "TABTALK_ALLOWED_ORIGINS"
	envShutdownTimeout = "TABTALK_SHUTDOWN_TIMEOUT"
)

// ServerConfig holds relay server settings.
type ServerConfig struct {
	ListenAddr      string
	StrictRooms     bool
	MaxMessageBytes int64

	// AllowedOrigins lists normalized origins (scheme://host[:port]) allowed to
	// open a websocket. Empty allows every origin.
	AllowedOrigins []string

	ShutdownTimeout time.Duration
}

// ServerOptions carries `serve` flag values. Zero values fall through to the
// environment and then to defaults.
type ServerOptions struct {
	ListenAddr      string
	StrictRooms     bool
	MaxMessageBytes int64
	AllowedOrigins  string
	ShutdownTimeout time.Duration
}

func LoadServer(opts ServerOptions) (*ServerConfig, error) {
	return loadServer(os.LookupEnv, opts)
}

func loadServer(lookup func(string) (string, bool), opts ServerOptions) (*ServerConfig, error) {
	addr := firstNonEmpty(opts.ListenAddr, envOrDefault(lookup, envListenAddr, DefaultListenAddr))
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return nil, fmt.Errorf("listen address %q: %w", addr, err)
	}

	strict := opts.StrictRooms
	if !strict {
		if raw := envOrDefault(lookup, envStrictRooms, ""); raw != "" {
			v, err := strconv.ParseBool(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", envStrictRooms, err)
			}
			strict = v
		}
	}

	maxBytes := opts.MaxMessageBytes
	if maxBytes == 0 {
		maxBytes = DefaultMaxMessageBytes
		if raw := envOrDefault(lookup, envMaxMessageBytes, ""); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", envMaxMessageBytes, err)
			}
			maxBytes = v
		}
	}
	if maxBytes < 1024 {
		return nil, fmt.Errorf("max message bytes must be at least 1024, got %d", maxBytes)
	}

	origins, err := parseAllowedOrigins(firstNonEmpty(opts.AllowedOrigins, envOrDefault(lookup, envAllowedOrigins, "")))
	if err != nil {
		return nil, err
	}

	timeout := opts.ShutdownTimeout
	if timeout == 0 {
		timeout = DefaultShutdownTimeout
		if raw := envOrDefault(lookup, envShutdownTimeout, ""); raw != "" {
			v, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", envShutdownTimeout, err)
			}
			timeout = v
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("shutdown timeout must be positive, got %s", timeout)
	}

	return &ServerConfig{
		ListenAddr:      addr,
		StrictRooms:     strict,
		MaxMessageBytes: maxBytes,
		AllowedOrigins:  origins,
		ShutdownTimeout: timeout,
	}, nil
}

// AllowsOrigin reports whether a websocket Origin header value is accepted.
// Requests without an Origin header come from non-browser clients and are
// always accepted.
func (c *ServerConfig) AllowsOrigin(origin string) bool {
	if len(c.AllowedOrigins) == 0 || origin == "" {
		return true
	}
	normalized, err := normalizeOrigin(origin)
	if err != nil {
		return false
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == normalized {
			return true
		}
	}
	return false
}

func parseAllowedOrigins(raw string) ([]string, error) {
	var out []string
	for _, entry := range splitCommaSeparated(raw) {
		if entry == "*" {
			out = append(out, entry)
			continue
		}
		normalized, err := normalizeOrigin(entry)
		if err != nil {
			return nil, fmt.Errorf("allowed origin %q: %w", entry, err)
		}
		out = append(out, normalized)
	}
	return out, nil
}

func normalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host")
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}
