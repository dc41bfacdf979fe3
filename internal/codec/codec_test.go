package codec

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/signaling-relay/internal/models"
)

func TestForName(t *testing.T) {
	tests := []struct {
		in       string
		want     string
		wantType int
		wantErr  bool
	}{
		{in: "", want: NameJSON, wantType: websocket.TextMessage},
		{in: "JSON", want: NameJSON, wantType: websocket.TextMessage},
		{in: "msgpack", want: NameMsgpack, wantType: websocket.BinaryMessage},
		{in: "xml", wantErr: true},
	}
	for _, tt := range tests {
		c, err := ForName(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ForName(%q) error = nil, want error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ForName(%q) error = %v", tt.in, err)
		}
		if c.Name() != tt.want || c.MessageType() != tt.wantType {
			t.Fatalf("ForName(%q) = %s/%d, want %s/%d", tt.in, c.Name(), c.MessageType(), tt.want, tt.wantType)
		}
	}
}

// A client frame decodes into an envelope with loosely typed data, which the
// hub then converts into the request struct for the event.
func TestEnvelopeDataConvertsToRequest(t *testing.T) {
	for _, c := range []Codec{JSON{}, Msgpack{}} {
		t.Run(c.Name(), func(t *testing.T) {
			frame, err := c.Marshal(map[string]any{
				"event": models.EventOpenRoom,
				"ack":   7,
				"data": map[string]any{
					"sessionid":              "r1",
					"password":               "pw",
					"maxParticipantsAllowed": 4,
					"session":                map[string]any{"audio": true, "oneway": true},
					"extra":                  map[string]any{"name": "alice"},
				},
			})
			if err != nil {
				t.Fatalf("Marshal error = %v", err)
			}

			var env models.Envelope
			if err := c.Unmarshal(frame, &env); err != nil {
				t.Fatalf("Unmarshal error = %v", err)
			}
			if env.Event != models.EventOpenRoom || env.Ack != 7 {
				t.Fatalf("envelope = %+v", env)
			}

			var req models.RoomRequest
			if err := Convert(c, env.Data, &req); err != nil {
				t.Fatalf("Convert error = %v", err)
			}
			if req.SessionID != "r1" || req.Password != "pw" || !req.Session.OneWay || !req.Session.Audio {
				t.Fatalf("request = %+v", req)
			}
			if got := models.IntOr(req.MaxParticipantsAllowed, 0); got != 4 {
				t.Fatalf("maxParticipantsAllowed = %d, want 4", got)
			}
			if req.Extra["name"] != "alice" {
				t.Fatalf("extra = %v", req.Extra)
			}
		})
	}
}

func TestConvertNilLeavesDestination(t *testing.T) {
	req := models.PasswordRequest{Password: "keep"}
	if err := Convert(JSON{}, nil, &req); err != nil {
		t.Fatalf("Convert error = %v", err)
	}
	if req.Password != "keep" {
		t.Fatalf("Password = %q, want keep", req.Password)
	}
}
