/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Microsoft Corporation. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

package cdp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Payload is the opaque body of a call, reply or event.
// The connection never inspects it; only the codec and the application do.
type Payload = json.RawMessage

// EnvelopeKind tells a reply from an event.
type EnvelopeKind int

const (
	ReplyEnvelope EnvelopeKind = iota
	EventEnvelope
)

func (k EnvelopeKind) String() string {
	switch k {
	case ReplyEnvelope:
		return "reply"
	case EventEnvelope:
		return "event"
	default:
		return "unknown"
	}
}

// Envelope is one decoded wire message.
// For replies ID is set and exactly one of Payload (the result) or Err is meaningful.
// For events Method and Payload (the event parameters) are set.
type Envelope struct {
	Kind    EnvelopeKind
	ID      uint64
	Method  string
	Payload Payload
	Err     *RemoteError
}

// Codec translates between calls/envelopes and wire bytes.
// Implementations must be safe for concurrent use: Encode is called from caller goroutines
// while Decode runs on the reader loop.
type Codec interface {
	// Encode produces the wire form of a call. A nil id produces a message without an id.
	Encode(id *uint64, method string, params Payload) ([]byte, error)

	// Decode parses one wire message. Errors that match ErrProtocol mean the frame
	// is malformed and should be dropped.
	Decode(data []byte) (Envelope, error)
}

type wireMessage struct {
	ID     *uint64      `json:"id,omitempty"`
	Method string       `json:"method,omitempty"`
	Params Payload      `json:"params,omitempty"`
	Result Payload      `json:"result,omitempty"`
	Error  *RemoteError `json:"error,omitempty"`
}

// JSONCodec implements the DevTools protocol JSON envelope.
type JSONCodec struct {
	// Event names accepted by Decode. Empty means any event name is accepted.
	// Built once by NewJSONCodec and never modified afterwards.
	knownEvents map[string]struct{}
}

// NewJSONCodec creates a JSON codec. If knownEvents are given, events with other
// method names are rejected by Decode as protocol errors.
func NewJSONCodec(knownEvents ...string) *JSONCodec {
	c := &JSONCodec{}
	if len(knownEvents) > 0 {
		c.knownEvents = make(map[string]struct{}, len(knownEvents))
		for _, name := range knownEvents {
			c.knownEvents[name] = struct{}{}
		}
	}
	return c
}

func (c *JSONCodec) Encode(id *uint64, method string, params Payload) ([]byte, error) {
	if method == "" {
		return nil, errors.New("method name is required")
	}

	msg := wireMessage{
		ID:     id,
		Method: method,
	}
	if !isNullPayload(params) {
		if !json.Valid(params) {
			return nil, fmt.Errorf("parameters of '%s' are not valid JSON", method)
		}
		msg.Params = params
	}

	data, marshalErr := json.Marshal(msg)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to encode '%s' call: %w", method, marshalErr)
	}
	return data, nil
}

func (c *JSONCodec) Decode(data []byte) (Envelope, error) {
	var msg wireMessage
	if unmarshalErr := json.Unmarshal(data, &msg); unmarshalErr != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrProtocol, unmarshalErr)
	}

	switch {
	case msg.ID != nil && msg.Method != "":
		return Envelope{}, fmt.Errorf("%w: message %d has both an id and a method ('%s')", ErrProtocol, *msg.ID, msg.Method)

	case msg.ID != nil:
		env := Envelope{
			Kind: ReplyEnvelope,
			ID:   *msg.ID,
		}
		if msg.Error != nil {
			env.Err = msg.Error
		} else {
			env.Payload = msg.Result
		}
		return env, nil

	case msg.Method != "":
		if isNullPayload(msg.Params) {
			return Envelope{}, fmt.Errorf("%w: event '%s' has no params", ErrProtocol, msg.Method)
		}
		if c.knownEvents != nil {
			if _, known := c.knownEvents[msg.Method]; !known {
				return Envelope{}, fmt.Errorf("%w: unknown event '%s'", ErrProtocol, msg.Method)
			}
		}
		return Envelope{
			Kind:    EventEnvelope,
			Method:  msg.Method,
			Payload: msg.Params,
		}, nil

	default:
		return Envelope{}, fmt.Errorf("%w: message has neither an id nor a method", ErrProtocol)
	}
}

func isNullPayload(p Payload) bool {
	trimmed := bytes.TrimSpace(p)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

var _ Codec = (*JSONCodec)(nil)
