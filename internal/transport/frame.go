package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/capitalize-ai/memory-hub/internal/model"
)

// Separator terminates every JSON frame of the chat stream.
const Separator = "###END###"

const readChunkSize = 4 * 1024

var separator = []byte(Separator)

// errUnknownEvent marks a well-formed frame with an unsupported type.
var errUnknownEvent = errors.New("unknown event type")

// DropFunc observes frames that could not be decoded.
type DropFunc func(frame []byte, err error)

// Decoder splits a chat stream into events.
type Decoder struct {
	r      io.Reader
	buf    []byte
	chunk  []byte
	eof    bool
	onDrop DropFunc
}

// NewDecoder creates a decoder reading from r. onDrop may be nil.
func NewDecoder(r io.Reader, onDrop DropFunc) *Decoder {
	return &Decoder{
		r:      r,
		chunk:  make([]byte, readChunkSize),
		onDrop: onDrop,
	}
}

// Next returns the next decodable event. Malformed frames are skipped. It
// returns io.EOF once the stream and any trailing frame are exhausted, and
// the reader's error otherwise.
func (d *Decoder) Next() (model.Event, error) {
	for {
		if frame, ok := d.cut(); ok {
			if evt, ok := d.decode(frame); ok {
				return evt, nil
			}
			continue
		}

		if d.eof {
			// Best effort: the last frame may arrive without a separator.
			tail := bytes.TrimSpace(d.buf)
			d.buf = nil
			if len(tail) > 0 {
				if evt, ok := d.decode(tail); ok {
					return evt, nil
				}
			}
			return nil, io.EOF
		}

		n, err := d.r.Read(d.chunk)
		if n > 0 {
			d.buf = append(d.buf, d.chunk[:n]...)
		}
		if errors.Is(err, io.EOF) {
			d.eof = true
		} else if err != nil {
			return nil, err
		}
	}
}

// cut removes the next separator-terminated frame from the buffer. Empty
// frames are skipped.
func (d *Decoder) cut() ([]byte, bool) {
	for {
		idx := bytes.Index(d.buf, separator)
		if idx < 0 {
			return nil, false
		}
		frame := bytes.TrimSpace(d.buf[:idx])
		rest := d.buf[idx+len(separator):]
		if len(rest) > 0 && rest[0] == '\n' {
			rest = rest[1:]
		}
		// Copy so the returned frame does not alias the growing buffer.
		frame = append([]byte(nil), frame...)
		d.buf = append(d.buf[:0], rest...)
		if len(frame) > 0 {
			return frame, true
		}
	}
}

func (d *Decoder) decode(frame []byte) (model.Event, bool) {
	evt, err := DecodeEvent(frame)
	if err != nil {
		if d.onDrop != nil {
			d.onDrop(frame, err)
		}
		return nil, false
	}
	return evt, true
}

type wireEvent struct {
	Type      string      `json:"type"`
	Content   *flexString `json:"content"`
	SessionID flexString  `json:"session_id"`
}

// DecodeEvent decodes one frame into its event type.
func DecodeEvent(frame []byte) (model.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(frame, &w); err != nil {
		return nil, err
	}

	var content string
	if w.Content != nil {
		content = w.Content.String()
	}

	switch w.Type {
	case "session":
		id := firstNonEmpty(w.SessionID)
		if id == "" {
			return nil, fmt.Errorf("session event without session_id")
		}
		return model.SessionEvent{SessionID: id}, nil
	case "log":
		return model.LogEvent{Content: content}, nil
	case "first_token":
		return model.FirstTokenEvent{}, nil
	case "token":
		return model.TokenEvent{Content: content}, nil
	case "final_token":
		return model.FinalTokenEvent{Content: content}, nil
	case "error":
		return model.ErrorEvent{Content: content}, nil
	case "cancelled":
		return model.ErrorEvent{Content: "cancelled"}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownEvent, w.Type)
	}
}

// EventName returns the wire name of an event, for logs and metrics.
func EventName(evt model.Event) string {
	switch evt.(type) {
	case model.SessionEvent:
		return "session"
	case model.LogEvent:
		return "log"
	case model.FirstTokenEvent:
		return "first_token"
	case model.TokenEvent:
		return "token"
	case model.FinalTokenEvent:
		return "final_token"
	case model.ErrorEvent:
		return "error"
	default:
		return "unknown"
	}
}
