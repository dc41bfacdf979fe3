// Package codec encodes websocket frames. JSON travels in text frames,
// MessagePack in binary frames; both honour the json struct tags of the
// models package.
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

type Codec interface {
	Name() string
	// MessageType is the websocket frame type the codec writes.
	MessageType() int
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// ForName returns the codec registered under name. An empty name selects JSON.
func ForName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameJSON:
		return JSON{}, nil
	case NameMsgpack, "messagepack":
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// Convert decodes a loosely typed value (the Data of a decoded envelope) into
// dst by round-tripping it through c.
func Convert(c Codec, src, dst any) error {
	if src == nil {
		return nil
	}
	data, err := c.Marshal(src)
	if err != nil {
		return fmt.Errorf("re-encode payload: %w", err)
	}
	if err := c.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

type JSON struct{}

func (JSON) Name() string     { return NameJSON }
func (JSON) MessageType() int { return websocket.TextMessage }

func (JSON) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSON) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

type Msgpack struct{}

func (Msgpack) Name() string     { return NameMsgpack }
func (Msgpack) MessageType() int { return websocket.BinaryMessage }

func (Msgpack) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Msgpack) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
