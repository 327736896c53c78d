package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

const (
	envTURNJSON       = "TABTALK_TURN"
	envTURNURLs       = "TABTALK_TURN_URLS"
	envTURNUsername   = "TABTALK_TURN_USERNAME"
	envTURNCredential = "TABTALK_TURN_CREDENTIAL"
)

// TURNServer is the optional relay descriptor, in the same shape browsers use
// for an RTCIceServer entry.
type TURNServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username"`
	Credential string   `json:"credential"`
}

func (t *TURNServer) ICEServer() webrtc.ICEServer {
	return webrtc.ICEServer{
		URLs:       t.URLs,
		Username:   t.Username,
		Credential: t.Credential,
	}
}

type turnJSON struct {
	URLs       stringOrStringSlice `json:"urls"`
	Username   string              `json:"username"`
	Credential string              `json:"credential"`
}

type stringOrStringSlice []string

func (s *stringOrStringSlice) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// ParseTURNJSON parses a `{urls, username, credential}` descriptor. An empty
// input yields nil.
func ParseTURNJSON(raw string) (*TURNServer, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var desc turnJSON
	if err := json.Unmarshal([]byte(raw), &desc); err != nil {
		return nil, fmt.Errorf("%s: %w", envTURNJSON, err)
	}
	turn := &TURNServer{
		URLs:       splitCommaSeparated(strings.Join(desc.URLs, ",")),
		Username:   strings.TrimSpace(desc.Username),
		Credential: strings.TrimSpace(desc.Credential),
	}
	if err := validateTURN(turn); err != nil {
		return nil, fmt.Errorf("%s: %w", envTURNJSON, err)
	}
	return turn, nil
}

// loadTURN resolves TURN from flags, then the JSON descriptor, then the
// separate env vars.
func loadTURN(lookup func(string) (string, bool), opts Options) (*TURNServer, error) {
	if urls := splitCommaSeparated(opts.TURNServer); len(urls) > 0 {
		turn := &TURNServer{
			URLs:       urls,
			Username:   firstNonEmpty(opts.TURNUser, envOrDefault(lookup, envTURNUsername, "")),
			Credential: firstNonEmpty(opts.TURNPass, envOrDefault(lookup, envTURNCredential, "")),
		}
		if err := validateTURN(turn); err != nil {
			return nil, fmt.Errorf("turn: %w", err)
		}
		return turn, nil
	}

	if raw := envOrDefault(lookup, envTURNJSON, ""); raw != "" {
		return ParseTURNJSON(raw)
	}

	urls := splitCommaSeparated(envOrDefault(lookup, envTURNURLs, ""))
	if len(urls) == 0 {
		return nil, nil
	}
	turn := &TURNServer{
		URLs:       urls,
		Username:   envOrDefault(lookup, envTURNUsername, ""),
		Credential: envOrDefault(lookup, envTURNCredential, ""),
	}
	if err := validateTURN(turn); err != nil {
		return nil, fmt.Errorf("%s: %w", envTURNURLs, err)
	}
	return turn, nil
}

func validateTURN(t *TURNServer) error {
	if len(t.URLs) == 0 {
		return errors.New("missing urls")
	}
	for _, u := range t.URLs {
		if !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
			return fmt.Errorf("unsupported turn url scheme: %q", u)
		}
	}
	return validateICEServer(t.ICEServer())
}

func validateICEServer(server webrtc.ICEServer) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}

	requiresTurnCreds := false
	for _, raw := range server.URLs {
		url := strings.TrimSpace(raw)
		if url == "" {
			return errors.New("urls must not contain empty entries")
		}
		if !isAllowedICEScheme(url) {
			return fmt.Errorf("unsupported url scheme: %q", url)
		}
		if strings.HasPrefix(url, "turn:") || strings.HasPrefix(url, "turns:") {
			requiresTurnCreds = true
		}
	}

	if requiresTurnCreds {
		if strings.TrimSpace(server.Username) == "" {
			return errors.New("turn urls require username")
		}
		cred, ok := server.Credential.(string)
		if !ok || strings.TrimSpace(cred) == "" {
			return errors.New("turn urls require credential")
		}
	}
	return nil
}

func isAllowedICEScheme(url string) bool {
	switch {
	case strings.HasPrefix(url, "stun:"),
		strings.HasPrefix(url, "stuns:"),
		strings.HasPrefix(url, "turn:"),
		strings.HasPrefix(url, "turns:"):
		return true
	default:
		return false
	}
}
