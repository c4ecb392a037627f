// Package protocol defines the messages exchanged between an orchestrator and
// a guest execution context.
//
// Every language gets its own [Channel]. Envelope types carry a per-language
// prefix (EXECUTE_LUA, LUA_SANDBOX_READY, LUA_OUTPUT, ...) and are decoded at
// the boundary into the closed [Message] union, so the state machine never
// looks at type strings.
//
//	ch := protocol.NewChannel("lua")
//	raw, _ := ch.Encode(protocol.Execute{ID: id, Code: "print('x')"})
//	msg, err := ch.Decode(raw) // protocol.Execute
//
// Messages on one channel are delivered in send order. COMPLETE is the last
// message of an execution; anything later carrying the same id is a protocol
// violation and is dropped by the receiver.
package protocol

// Type identifies a message kind independent of language.
type Type int

const (
	TypeExecute Type = iota
	TypeReady
	TypeLoading
	TypeOutput
	TypeError
	TypeComplete
)

func (t Type) String() string {
	switch t {
	case TypeExecute:
		return "execute"
	case TypeReady:
		return "ready"
	case TypeLoading:
		return "loading"
	case TypeOutput:
		return "output"
	case TypeError:
		return "error"
	case TypeComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Message is one of Execute, Ready, Loading, Output, Error or Complete.
type Message interface {
	Type() Type
}

// Execute asks the guest to run code. Orchestrator to guest.
type Execute struct {
	ID   string
	Code string
}

// Ready is sent once when the guest runtime is resident.
type Ready struct{}

// Loading reports bootstrap progress. The text is for humans only.
type Loading struct {
	Message string
}

// Output relays one event of the execution identified by ID.
type Output struct {
	ID    string
	Event Event
}

// Error reports a fault. An empty ID means the runtime itself failed to load.
type Error struct {
	ID      string
	Message string
}

// Complete terminates the execution identified by ID. Duration is in
// milliseconds as measured by the guest.
type Complete struct {
	ID       string
	Success  bool
	Duration float64
	Error    string
}

func (Execute) Type() Type  { return TypeExecute }
func (Ready) Type() Type    { return TypeReady }
func (Loading) Type() Type  { return TypeLoading }
func (Output) Type() Type   { return TypeOutput }
func (Error) Type() Type    { return TypeError }
func (Complete) Type() Type { return TypeComplete }
