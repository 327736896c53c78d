package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/pion/webrtc/v4"
)

// Default configuration values
const (
	DefaultServerURL = "ws://localhost:3000/ws"
	DefaultRoom      = "main"
)

// DefaultSTUNServers are always part of the ICE server list.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

const (
	envServerURL = "TABTALK_SERVER_URL"
	envRoom      = "TABTALK_ROOM"
	envStunURLs  = "TABTALK_STUN_URLS"
)

// Config holds the call client configuration.
type Config struct {
	// ServerURL is the relay websocket endpoint.
	ServerURL string

	// Room both participants join.
	Room string

	STUNServers []string

	// TURN is optional. When nil only STUN is used.
	TURN *TURNServer

	// ForceRelay restricts ICE to relay candidates. Only meaningful with TURN.
	ForceRelay bool
}

// Options carries CLI flag values. Empty fields fall through to the
// environment and then to defaults.
type Options struct {
	ServerURL  string
	Room       string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool

	// DetectRelay enables the VPN/CGNAT check when TURN is configured and
	// ForceRelay is not set.
	DetectRelay bool
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	return load(os.LookupEnv, opts)
}

func load(lookup func(string) (string, bool), opts Options) (*Config, error) {
	serverURL := firstNonEmpty(opts.ServerURL, envOrDefault(lookup, envServerURL, DefaultServerURL))
	if err := validateServerURL(serverURL); err != nil {
		return nil, err
	}

	room, err := ParseRoom(firstNonEmpty(opts.Room, envOrDefault(lookup, envRoom, "")))
	if err != nil {
		return nil, err
	}

	stun := splitCommaSeparated(opts.STUNServer)
	if len(stun) == 0 {
		stun = splitCommaSeparated(envOrDefault(lookup, envStunURLs, ""))
	}
	if len(stun) == 0 {
		stun = append([]string(nil), DefaultSTUNServers...)
	}
	if err := validateICEServer(webrtc.ICEServer{URLs: stun}); err != nil {
		return nil, fmt.Errorf("stun: %w", err)
	}

	turn, err := loadTURN(lookup, opts)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ServerURL:   serverURL,
		Room:        room,
		STUNServers: stun,
		TURN:        turn,
		ForceRelay:  opts.ForceRelay,
	}
	if cfg.TURN != nil && !cfg.ForceRelay && opts.DetectRelay {
		cfg.ForceRelay = ShouldForceRelay()
	}
	return cfg, nil
}

// ICEServers returns STUN followed by TURN, when configured.
func (c *Config) ICEServers() []webrtc.ICEServer {
	servers := []webrtc.ICEServer{{URLs: c.STUNServers}}
	if c.TURN != nil {
		servers = append(servers, c.TURN.ICEServer())
	}
	return servers
}

// ICETransportPolicy returns relay only when forced and a TURN server exists.
func (c *Config) ICETransportPolicy() webrtc.ICETransportPolicy {
	if c.ForceRelay && c.TURN != nil {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}

// PeerConfiguration builds the pion configuration for new peer connections.
func (c *Config) PeerConfiguration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers:         c.ICEServers(),
		ICETransportPolicy: c.ICETransportPolicy(),
	}
}

func validateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("server url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("server url: unsupported scheme %q (want ws or wss)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("server url: missing host")
	}
	return nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func splitCommaSeparated(value string) []string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
