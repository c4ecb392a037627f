package executor

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/houyanchao/coderun/hostfunc"
	"github.com/houyanchao/coderun/protocol"
)

// Guest frames are written on stderr as \x00CODERUN:{json}\x00. Anything
// between frames is treated as warnings from the interpreter.
const (
	framePrefix = "\x00CODERUN:"
	frameSuffix = "\x00"
)

const (
	frameReady   = "ready"
	frameLoading = "loading"
	frameOut     = "out"
	frameDone    = "done"
	frameError   = "error"
	frameCall    = "call"
)

type guestFrame struct {
	T       string         `json:"t"`
	Level   string         `json:"level,omitempty"`
	Data    any            `json:"data,omitempty"`
	Message string         `json:"message,omitempty"`
	Fn      string         `json:"fn,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
}

type execCommand struct {
	Type string `json:"type"`
	Code string `json:"code,omitempty"`
}

type callResponse struct {
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// sinkRef routes guest output to the execution currently in flight. Output
// with no execution attached is dropped.
type sinkRef struct {
	mu   sync.Mutex
	sink protocol.Sink
}

func (r *sinkRef) set(s protocol.Sink) {
	r.mu.Lock()
	r.sink = s
	r.mu.Unlock()
}

func (r *sinkRef) emit(kind protocol.Kind, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink.Emit(kind, data)
}

// lineWriter turns a byte stream into one event per line.
type lineWriter struct {
	kind protocol.Kind
	sink *sinkRef

	mu  sync.Mutex
	buf bytes.Buffer
}

func newLineWriter(kind protocol.Kind, sink *sinkRef) *lineWriter {
	return &lineWriter{kind: kind, sink: sink}
}

func (w *lineWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(data)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// partial line, keep it for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.sink.emit(w.kind, strings.TrimRight(line, "\r\n"))
	}
	return len(data), nil
}

// Flush emits a trailing partial line, if any.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() == 0 {
		return
	}
	w.sink.emit(w.kind, strings.TrimRight(w.buf.String(), "\r"))
	w.buf.Reset()
}

type frameResult struct {
	err string
}

// frameScanner is the guest's stderr. It extracts frames, serves host calls
// and signals readiness and completion.
type frameScanner struct {
	ctx      context.Context
	registry *hostfunc.Registry
	stdin    io.Writer
	stdout   *lineWriter
	stray    *lineWriter
	sink     *sinkRef
	progress func(string)
	log      *zap.Logger

	buf     bytes.Buffer
	readyCh chan struct{}
	ready   bool
	doneCh  chan frameResult

	mu      sync.Mutex
	writeMu sync.Mutex
}

func newFrameScanner(ctx context.Context, registry *hostfunc.Registry, stdin io.Writer, stdout *lineWriter, sink *sinkRef, log *zap.Logger) *frameScanner {
	return &frameScanner{
		ctx:      ctx,
		registry: registry,
		stdin:    stdin,
		stdout:   stdout,
		stray:    newLineWriter(protocol.KindWarn, sink),
		sink:     sink,
		log:      log,
		readyCh:  make(chan struct{}),
		doneCh:   make(chan frameResult, 1),
	}
}

func (p *frameScanner) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)
	for p.next() {
	}
	return len(data), nil
}

// next consumes at most one frame from the buffer. It reports false when the
// buffer holds no complete frame.
func (p *frameScanner) next() bool {
	content := p.buf.String()
	if content == "" {
		return false
	}

	idx := strings.IndexByte(content, 0)
	if idx == -1 {
		p.stray.Write([]byte(content))
		p.buf.Reset()
		return false
	}
	if idx > 0 {
		p.stray.Write([]byte(content[:idx]))
		content = content[idx:]
	}

	if !strings.HasPrefix(content, framePrefix) {
		if len(content) < len(framePrefix) && strings.HasPrefix(framePrefix, content) {
			p.reset(content)
			return false
		}
		// a stray NUL, not a frame
		p.reset(content[1:])
		return true
	}

	body := content[len(framePrefix):]
	end := strings.Index(body, frameSuffix)
	if end == -1 {
		p.reset(content)
		return false
	}
	p.reset(body[end+len(frameSuffix):])
	p.handle(body[:end])
	return true
}

func (p *frameScanner) reset(rest string) {
	p.buf.Reset()
	p.buf.WriteString(rest)
}

func (p *frameScanner) handle(payload string) {
	var f guestFrame
	if err := sonic.UnmarshalString(payload, &f); err != nil {
		p.log.Debug("malformed guest frame", zap.Error(err))
		return
	}

	switch f.T {
	case frameReady:
		if !p.ready {
			p.ready = true
			close(p.readyCh)
		}
	case frameLoading:
		if p.progress != nil {
			p.progress(f.Message)
		}
	case frameOut:
		kind, ok := protocol.ParseKind(f.Level)
		if !ok {
			p.log.Debug("dropping guest output with unknown level", zap.String("level", f.Level))
			return
		}
		p.sink.emit(kind, f.Data)
	case frameDone:
		p.finish(frameResult{})
	case frameError:
		p.finish(frameResult{err: f.Message})
	case frameCall:
		go p.respond(p.call(f))
	default:
		p.log.Debug("unknown guest frame", zap.String("t", f.T))
	}
}

func (p *frameScanner) finish(res frameResult) {
	p.stdout.Flush()
	p.stray.Flush()
	select {
	case p.doneCh <- res:
	default:
	}
}

func (p *frameScanner) call(f guestFrame) callResponse {
	fn, ok := p.registry.Get(f.Fn)
	if !ok {
		return callResponse{Error: "unknown function: " + f.Fn}
	}
	result, err := fn(p.ctx, f.Args)
	if err != nil {
		return callResponse{Error: err.Error()}
	}
	return callResponse{Data: result}
}

func (p *frameScanner) respond(resp callResponse) {
	data, err := sonic.Marshal(resp)
	if err != nil {
		data = []byte(`{"error":"internal: failed to marshal response"}`)
	}

	if err := p.writeLine(data); err != nil {
		p.log.Debug("host call reply not delivered", zap.Error(err))
	}
}

// writeLine writes one newline-terminated message to the guest's stdin.
func (p *frameScanner) writeLine(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	_, err := p.stdin.Write(append(data, '\n'))
	return err
}

// begin discards any stale completion and returns the channel the next
// done or error frame is delivered on.
func (p *frameScanner) begin() <-chan frameResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.doneCh = make(chan frameResult, 1)
	return p.doneCh
}

func (p *frameScanner) Ready() <-chan struct{} {
	return p.readyCh
}
