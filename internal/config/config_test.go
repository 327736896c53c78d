package config

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(lookupMap(nil), Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != DefaultServerURL {
		t.Fatalf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Room != DefaultRoom {
		t.Fatalf("Room = %q, want %q", cfg.Room, DefaultRoom)
	}
	if cfg.TURN != nil {
		t.Fatalf("TURN should be unset: %+v", cfg.TURN)
	}

	servers := cfg.ICEServers()
	if len(servers) != 1 || len(servers[0].URLs) != 2 || servers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("ICEServers = %+v", servers)
	}
	if cfg.ICETransportPolicy() != webrtc.ICETransportPolicyAll {
		t.Fatalf("policy = %v", cfg.ICETransportPolicy())
	}
}

func TestLoadPrecedence(t *testing.T) {
	env := lookupMap(map[string]string{
		envServerURL: "wss://env.example/ws",
		envRoom:      "env-room",
		envStunURLs:  "stun:env.example:3478",
	})

	cfg, err := load(env, Options{})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "wss://env.example/ws" || cfg.Room != "env-room" || cfg.STUNServers[0] != "stun:env.example:3478" {
		t.Fatalf("env values not applied: %+v", cfg)
	}

	cfg, err = load(env, Options{ServerURL: "ws://flag.example:3000/ws", Room: "#flag-room", STUNServer: "stun:flag.example"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "ws://flag.example:3000/ws" || cfg.Room != "flag-room" || cfg.STUNServers[0] != "stun:flag.example" {
		t.Fatalf("flag values not applied: %+v", cfg)
	}
}

func TestLoadRejectsBadServerURL(t *testing.T) {
	for _, raw := range []string{"http://example.com/ws", "ws://", "::"} {
		if _, err := load(lookupMap(nil), Options{ServerURL: raw}); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestTURNFromJSONDescriptor(t *testing.T) {
	env := lookupMap(map[string]string{
		envTURNJSON: `{"urls":"turn:turn.example:3478","username":"u","credential":"p"}`,
	})
	cfg, err := load(env, Options{ForceRelay: true})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TURN == nil || cfg.TURN.URLs[0] != "turn:turn.example:3478" || cfg.TURN.Username != "u" {
		t.Fatalf("TURN = %+v", cfg.TURN)
	}

	servers := cfg.ICEServers()
	if len(servers) != 2 {
		t.Fatalf("ICEServers = %+v, want stun + turn", servers)
	}
	if servers[1].Credential != "p" {
		t.Fatalf("credential = %v", servers[1].Credential)
	}
	if cfg.ICETransportPolicy() != webrtc.ICETransportPolicyRelay {
		t.Fatalf("forced relay should select relay policy")
	}
}

func TestParseTURNJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr string
		urls    int
	}{
		{name: "empty", raw: "  "},
		{name: "url list", raw: `{"urls":["turn:a:3478","turns:a:5349"],"username":"u","credential":"p"}`, urls: 2},
		{name: "missing credential", raw: `{"urls":"turn:a:3478","username":"u"}`, wantErr: "credential"},
		{name: "stun scheme", raw: `{"urls":"stun:a:3478","username":"u","credential":"p"}`, wantErr: "scheme"},
		{name: "not json", raw: `turn:a`, wantErr: envTURNJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			turn, err := ParseTURNJSON(tt.raw)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want substring %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTURNJSON: %v", err)
			}
			if tt.urls == 0 {
				if turn != nil {
					t.Fatalf("want nil, got %+v", turn)
				}
				return
			}
			if len(turn.URLs) != tt.urls {
				t.Fatalf("urls = %v", turn.URLs)
			}
		})
	}
}

func TestTURNFromFlagsNeedsCredentials(t *testing.T) {
	_, err := load(lookupMap(nil), Options{TURNServer: "turn:turn.example:3478", TURNUser: "u"})
	if err == nil || !strings.Contains(err.Error(), "credential") {
		t.Fatalf("err = %v, want credential error", err)
	}

	cfg, err := load(lookupMap(map[string]string{envTURNCredential: "secret"}), Options{TURNServer: "turn:turn.example:3478", TURNUser: "u"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TURN.Credential != "secret" {
		t.Fatalf("credential from env not applied: %+v", cfg.TURN)
	}
}

func TestParseRoom(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{in: "", want: DefaultRoom},
		{in: "abc", want: "abc"},
		{in: "#abc", want: "abc"},
		{in: "#", want: DefaultRoom},
		{in: "https://tabtalk.example/#team-sync", want: "team-sync"},
		{in: "https://tabtalk.example/", want: DefaultRoom},
		{in: "two words", err: true},
		{in: strings.Repeat("x", maxRoomLength+1), err: true},
	}
	for _, tt := range tests {
		got, err := ParseRoom(tt.in)
		if tt.err {
			if err == nil {
				t.Fatalf("ParseRoom(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseRoom(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("ParseRoom(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRestrictiveInterface(t *testing.T) {
	if !restrictiveInterface("wg0", nil) {
		t.Fatalf("wireguard interface should be restrictive")
	}
	if !restrictiveInterface("eth0", []net.IP{net.ParseIP("100.100.1.2")}) {
		t.Fatalf("CGNAT address should be restrictive")
	}
	if restrictiveInterface("eth0", []net.IP{net.ParseIP("192.168.1.10")}) {
		t.Fatalf("private LAN address should not be restrictive")
	}
}

func TestLoadServer(t *testing.T) {
	cfg, err := loadServer(lookupMap(nil), ServerOptions{})
	if err != nil {
		t.Fatalf("loadServer: %v", err)
	}
	if cfg.ListenAddr != DefaultListenAddr || cfg.StrictRooms || cfg.MaxMessageBytes != DefaultMaxMessageBytes || cfg.ShutdownTimeout != DefaultShutdownTimeout {
		t.Fatalf("defaults = %+v", cfg)
	}

	env := lookupMap(map[string]string{
		envListenAddr:      "127.0.0.1:4000",
		envStrictRooms:     "true",
		envMaxMessageBytes: "2048",
		envAllowedOrigins:  "https://App.Example, http://localhost:5173",
		envShutdownTimeout: "3s",
	})
	cfg, err = loadServer(env, ServerOptions{})
	if err != nil {
		t.Fatalf("loadServer: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:4000" || !cfg.StrictRooms || cfg.MaxMessageBytes != 2048 || cfg.ShutdownTimeout != 3*time.Second {
		t.Fatalf("env = %+v", cfg)
	}
	if !cfg.AllowsOrigin("https://app.example") || !cfg.AllowsOrigin("") || cfg.AllowsOrigin("https://evil.example") {
		t.Fatalf("origin policy wrong: %v", cfg.AllowedOrigins)
	}

	cfg, err = loadServer(env, ServerOptions{ListenAddr: ":5000", MaxMessageBytes: 4096})
	if err != nil {
		t.Fatalf("loadServer: %v", err)
	}
	if cfg.ListenAddr != ":5000" || cfg.MaxMessageBytes != 4096 {
		t.Fatalf("flags = %+v", cfg)
	}
}

func TestLoadServerRejectsInvalid(t *testing.T) {
	cases := []map[string]string{
		{envListenAddr: "no-port"},
		{envStrictRooms: "maybe"},
		{envMaxMessageBytes: "12"},
		{envAllowedOrigins: "ftp://x"},
		{envShutdownTimeout: "-1s"},
	}
	for _, env := range cases {
		if _, err := loadServer(lookupMap(env), ServerOptions{}); err == nil {
			t.Fatalf("expected error for %v", env)
		}
	}
}
