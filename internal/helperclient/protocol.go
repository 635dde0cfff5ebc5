package helperclient

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// maxFrameSize guards against a runaway length prefix from a misbehaving
// helper process.
const maxFrameSize = 256 * 1024 * 1024

// Message is a single decoded frame exchanged with the External Helper.
// Fields are accessed loosely since the wire contract (spec §4.C) carries
// command-specific payloads alongside the common envelope fields.
type Message map[string]any

// ID returns the envelope's correlation id, or 0 if absent/malformed.
func (m Message) ID() int64 {
	switch v := m["id"].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	default:
		return 0
	}
}

// Command returns the envelope's command name.
func (m Message) Command() string {
	s, _ := m["command"].(string)
	return s
}

// Success reports whether the envelope carries success=true.
func (m Message) Success() bool {
	b, _ := m["success"].(bool)
	return b
}

// HasError reports whether the envelope carries a non-empty error field.
func (m Message) HasError() bool {
	s, ok := m["error"].(string)
	return ok && s != ""
}

// Error returns the envelope's error string, if any.
func (m Message) Error() string {
	s, _ := m["error"].(string)
	return s
}

// Alive reports whether a heartbeat response carries alive=true.
func (m Message) Alive() bool {
	b, _ := m["alive"].(bool)
	return b
}

// IsTerminal reports whether m concludes a request/response exchange:
// either success is present, or an error is present. A "progress" command
// is never terminal.
func (m Message) IsTerminal() bool {
	if m.Command() == "progress" {
		return false
	}
	_, hasSuccess := m["success"]
	return hasSuccess || m.HasError()
}

// newRequest builds the outbound envelope for id/command, merging payload
// fields at the top level.
func newRequest(id int64, command string, payload map[string]any) map[string]any {
	req := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		req[k] = v
	}
	req["id"] = id
	req["command"] = command
	return req
}

// writeFrame writes a length-prefixed JSON frame: a uint32 little-endian
// byte length followed by the UTF-8 JSON payload (spec §4.C, the Chrome
// Native Messaging contract).
func writeFrame(w io.Writer, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling frame: %w", err)
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("writing frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed JSON frame from r.
func readFrame(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", length, maxFrameSize)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("unmarshaling frame: %w", err)
	}
	return msg, nil
}
