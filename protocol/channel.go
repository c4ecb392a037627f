package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

var (
	// ErrMalformed is returned for envelopes that are not valid JSON or whose
	// payload does not match the declared type.
	ErrMalformed = errors.New("malformed envelope")
	// ErrUnknownType is returned for envelope types outside this channel.
	ErrUnknownType = errors.New("unknown message type")
	// ErrUnknownKind is returned for OUTPUT messages with a level outside the
	// closed Kind set.
	ErrUnknownKind = errors.New("unknown output kind")
)

var codec = sonic.ConfigStd

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type executePayload struct {
	ID   string `json:"id,omitempty"`
	Code string `json:"code"`
}

type loadingPayload struct {
	Message string `json:"message"`
}

type outputPayload struct {
	ID    string `json:"id,omitempty"`
	Level string `json:"level"`
	Data  any    `json:"data"`
}

type errorPayload struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

type completePayload struct {
	ID       string  `json:"id,omitempty"`
	Success  bool    `json:"success"`
	Duration float64 `json:"duration"`
	Error    string  `json:"error,omitempty"`
}

// Channel encodes and decodes envelopes for one language.
type Channel struct {
	lang     string
	execute  string
	ready    string
	loading  string
	output   string
	fault    string
	complete string
}

// NewChannel returns the channel for lang. The message prefix is the upper
// cased language id.
func NewChannel(lang string) Channel {
	p := strings.ToUpper(lang)
	return Channel{
		lang:     lang,
		execute:  "EXECUTE_" + p,
		ready:    p + "_SANDBOX_READY",
		loading:  p + "_LOADING",
		output:   p + "_OUTPUT",
		fault:    p + "_ERROR",
		complete: p + "_COMPLETE",
	}
}

// Language returns the language id this channel serves.
func (c Channel) Language() string { return c.lang }

// TypeName returns the wire type string for t on this channel.
func (c Channel) TypeName(t Type) string {
	switch t {
	case TypeExecute:
		return c.execute
	case TypeReady:
		return c.ready
	case TypeLoading:
		return c.loading
	case TypeOutput:
		return c.output
	case TypeError:
		return c.fault
	case TypeComplete:
		return c.complete
	default:
		return ""
	}
}

// Encode serializes msg into an envelope.
func (c Channel) Encode(msg Message) ([]byte, error) {
	var payload any
	switch m := msg.(type) {
	case Execute:
		payload = executePayload{ID: m.ID, Code: m.Code}
	case Ready:
		payload = struct{}{}
	case Loading:
		payload = loadingPayload{Message: m.Message}
	case Output:
		if _, ok := ParseKind(string(m.Event.Kind)); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, m.Event.Kind)
		}
		payload = outputPayload{ID: m.ID, Level: string(m.Event.Kind), Data: m.Event.Data}
	case Error:
		payload = errorPayload{ID: m.ID, Message: m.Message}
	case Complete:
		payload = completePayload{ID: m.ID, Success: m.Success, Duration: m.Duration, Error: m.Error}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}

	raw, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.Type(), err)
	}
	return codec.Marshal(envelope{Type: c.TypeName(msg.Type()), Payload: raw})
}

// Decode parses an envelope received on this channel.
func (c Channel) Decode(data []byte) (Message, error) {
	var env envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(env.Payload) == 0 {
		env.Payload = json.RawMessage("{}")
	}

	switch env.Type {
	case c.execute:
		var p executePayload
		if err := c.payload(env, &p); err != nil {
			return nil, err
		}
		return Execute{ID: p.ID, Code: p.Code}, nil
	case c.ready:
		return Ready{}, nil
	case c.loading:
		var p loadingPayload
		if err := c.payload(env, &p); err != nil {
			return nil, err
		}
		return Loading{Message: p.Message}, nil
	case c.output:
		var p outputPayload
		if err := c.payload(env, &p); err != nil {
			return nil, err
		}
		kind, ok := ParseKind(p.Level)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKind, p.Level)
		}
		return Output{ID: p.ID, Event: Event{Kind: kind, Data: p.Data}}, nil
	case c.fault:
		var p errorPayload
		if err := c.payload(env, &p); err != nil {
			return nil, err
		}
		return Error{ID: p.ID, Message: p.Message}, nil
	case c.complete:
		var p completePayload
		if err := c.payload(env, &p); err != nil {
			return nil, err
		}
		return Complete{ID: p.ID, Success: p.Success, Duration: p.Duration, Error: p.Error}, nil
	default:
		return nil, fmt.Errorf("%w: %q on %s channel", ErrUnknownType, env.Type, c.lang)
	}
}

func (c Channel) payload(env envelope, v any) error {
	if err := codec.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, env.Type, err)
	}
	return nil
}
