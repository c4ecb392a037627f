package protocol

// Kind is the level of an output event. The set is closed: values that do not
// parse with [ParseKind] never reach a caller.
type Kind string

const (
	KindLog    Kind = "log"
	KindError  Kind = "error"
	KindWarn   Kind = "warn"
	KindInfo   Kind = "info"
	KindResult Kind = "result"
	// KindHTML carries sanitized markup for a preview pane.
	KindHTML Kind = "html"
	// KindFormatted carries a canonical re-serialization of a document.
	KindFormatted Kind = "formatted"
)

var kinds = map[Kind]struct{}{
	KindLog:       {},
	KindError:     {},
	KindWarn:      {},
	KindInfo:      {},
	KindResult:    {},
	KindHTML:      {},
	KindFormatted: {},
}

// ParseKind validates a level string received from a guest.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	_, ok := kinds[k]
	return k, ok
}

// Event is one unit of output produced by guest code, in production order.
type Event struct {
	Kind Kind `json:"level"`
	Data any  `json:"data"`
}

// Sink receives events as they arrive. A nil Sink discards them.
type Sink func(Event)

// Emit calls s if it is set.
func (s Sink) Emit(kind Kind, data any) {
	if s != nil {
		s(Event{Kind: kind, Data: data})
	}
}
