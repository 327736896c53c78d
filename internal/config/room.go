package config

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
)

const maxRoomLength = 128

// ParseRoom extracts a room id from a bare id, a "#fragment", or a link whose
// fragment names the room. Empty input selects DefaultRoom.
func ParseRoom(input string) (string, error) {
	input = strings.TrimSpace(input)

	switch {
	case input == "":
		return DefaultRoom, nil
	case strings.HasPrefix(input, "#"):
		input = input[1:]
	case strings.Contains(input, "://"):
		u, err := url.Parse(input)
		if err != nil {
			return "", fmt.Errorf("invalid room link: %w", err)
		}
		input = u.Fragment
	}

	if input == "" {
		return DefaultRoom, nil
	}
	if len(input) > maxRoomLength {
		return "", fmt.Errorf("room id longer than %d characters", maxRoomLength)
	}
	for _, r := range input {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return "", fmt.Errorf("room id %q contains whitespace", input)
		}
	}
	return input, nil
}
