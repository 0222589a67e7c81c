package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	ErrMalformedMessage = errors.New("malformed server message")
	ErrInvalidProgress  = errors.New("invalid progress counters")
)

// Message is an inbound server message. Absent fields are nil.
type Message struct {
	NumUsers      *int
	Image         string
	Step          *int
	NumIterations *int

	// counterErr records a step or num_iterations value that was present
	// but unusable. It only matters once the image is about to be applied.
	counterErr error
}

type wireMessage struct {
	NumUsers      json.RawMessage `json:"numUsers"`
	Image         json.RawMessage `json:"image"`
	Step          json.RawMessage `json:"step"`
	NumIterations json.RawMessage `json:"num_iterations"`
}

// ParseMessage decodes a raw server message. Only the structure and the
// user count are checked here; progress counters are checked by
// ValidateProgress when an image is actually applied.
func ParseMessage(raw []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedMessage)
	}

	var w wireMessage
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	msg := &Message{}
	var err error
	if msg.NumUsers, err = parseCount("numUsers", w.NumUsers); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if !isNull(w.Image) {
		if err := json.Unmarshal(w.Image, &msg.Image); err != nil {
			return nil, fmt.Errorf("%w: image: %v", ErrMalformedMessage, err)
		}
	}

	if msg.Step, err = parseCount("step", w.Step); err != nil {
		msg.counterErr = err
	}
	if msg.NumIterations, err = parseCount("num_iterations", w.NumIterations); err != nil && msg.counterErr == nil {
		msg.counterErr = err
	}
	return msg, nil
}

func (m *Message) HasImage() bool {
	return m.Image != ""
}

func (m *Message) HasNumUsers() bool {
	return m.NumUsers != nil
}

// ValidateProgress reports whether the message carries usable counters for
// its image: both present, non-negative integers, and step <= num_iterations.
func (m *Message) ValidateProgress() error {
	if m.counterErr != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProgress, m.counterErr)
	}
	if m.Step == nil || m.NumIterations == nil {
		return fmt.Errorf("%w: image without step and num_iterations", ErrInvalidProgress)
	}
	if *m.Step > *m.NumIterations {
		return fmt.Errorf("%w: step %d exceeds num_iterations %d", ErrInvalidProgress, *m.Step, *m.NumIterations)
	}
	return nil
}

func parseCount(field string, raw json.RawMessage) (*int, error) {
	if isNull(raw) {
		return nil, nil
	}
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return nil, fmt.Errorf("%s is not a number", field)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%s: %v", field, err)
	}

	var v int64
	if i, err := n.Int64(); err == nil {
		v = i
	} else {
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return nil, fmt.Errorf("%s must be an integer, got %s", field, n)
		}
		v = int64(f)
	}
	if v < 0 {
		return nil, fmt.Errorf("%s must be non-negative, got %d", field, v)
	}
	if v > math.MaxInt32 {
		return nil, fmt.Errorf("%s out of range", field)
	}

	out := int(v)
	return &out, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
