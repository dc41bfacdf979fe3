package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// iceServerEntry mirrors the browser RTCIceServer shape, where urls may be
// a single string or a list.
type iceServerEntry struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

type urlList []string

func (u *urlList) UnmarshalJSON(b []byte) error {
	var single string
	if err := json.Unmarshal(b, &single); err == nil {
		*u = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return err
	}
	*u = many
	return nil
}

// parseICEServers builds the STUN/TURN list handed to clients. ICE_SERVERS_JSON
// wins over the STUN_URLS/TURN_* convenience variables.
func parseICEServers(rawJSON, stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(rawJSON); raw != "" {
		var entries []iceServerEntry
		if err := json.Unmarshal([]byte(raw), &entries); err != nil {
			return nil, fmt.Errorf("ICE_SERVERS_JSON: %w", err)
		}
		servers := make([]webrtc.ICEServer, 0, len(entries))
		for i, entry := range entries {
			server, err := newICEServer(entry.URLs, entry.Username, entry.Credential)
			if err != nil {
				return nil, fmt.Errorf("ICE_SERVERS_JSON[%d]: %w", i, err)
			}
			servers = append(servers, server)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer
	if urls := splitList(stunURLs); len(urls) > 0 {
		server, err := newICEServer(urls, "", "")
		if err != nil {
			return nil, fmt.Errorf("STUN_URLS: %w", err)
		}
		servers = append(servers, server)
	}
	if urls := splitList(turnURLs); len(urls) > 0 {
		server, err := newICEServer(urls, turnUsername, turnCredential)
		if err != nil {
			return nil, fmt.Errorf("TURN_URLS: %w", err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

func newICEServer(urls []string, username, credential string) (webrtc.ICEServer, error) {
	username = strings.TrimSpace(username)
	credential = strings.TrimSpace(credential)

	clean := make([]string, 0, len(urls))
	needsCredentials := false
	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		switch {
		case strings.HasPrefix(url, "stun:"), strings.HasPrefix(url, "stuns:"):
		case strings.HasPrefix(url, "turn:"), strings.HasPrefix(url, "turns:"):
			needsCredentials = true
		default:
			return webrtc.ICEServer{}, fmt.Errorf("unsupported url scheme: %q", url)
		}
		clean = append(clean, url)
	}
	if len(clean) == 0 {
		return webrtc.ICEServer{}, errors.New("missing urls")
	}
	if needsCredentials && (username == "" || credential == "") {
		return webrtc.ICEServer{}, errors.New("turn urls require username and credential")
	}

	server := webrtc.ICEServer{URLs: clean, Username: username}
	if credential != "" {
		server.Credential = credential
		server.CredentialType = webrtc.ICECredentialTypePassword
	}
	return server, nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
