package executor

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/houyanchao/coderun/hostfunc"
	"github.com/houyanchao/coderun/protocol"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *recorder) sink() protocol.Sink {
	return func(e protocol.Event) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	}
}

func (r *recorder) all() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Event(nil), r.events...)
}

func newTestScanner(t *testing.T, registry *hostfunc.Registry, stdin *syncBuffer) (*frameScanner, *recorder) {
	t.Helper()
	rec := &recorder{}
	ref := &sinkRef{}
	ref.set(rec.sink())
	stdout := newLineWriter(protocol.KindLog, ref)
	return newFrameScanner(context.Background(), registry, stdin, stdout, ref, zaptest.NewLogger(t)), rec
}

func TestFrameScannerReadyAndDone(t *testing.T) {
	p, rec := newTestScanner(t, hostfunc.NewRegistry(), &syncBuffer{})
	done := p.begin()

	p.Write([]byte(framePrefix + `{"t":"ready"}` + frameSuffix))
	select {
	case <-p.Ready():
	default:
		t.Fatal("ready not signalled")
	}

	p.Write([]byte(framePrefix + `{"t":"out","level":"result","data":42}` + frameSuffix))
	p.Write([]byte(framePrefix + `{"t":"done"}` + frameSuffix))

	res := <-done
	assert.Empty(t, res.err)
	assert.Equal(t, []protocol.Event{{Kind: protocol.KindResult, Data: float64(42)}}, rec.all())
}

func TestFrameScannerSplitWrites(t *testing.T) {
	p, _ := newTestScanner(t, hostfunc.NewRegistry(), &syncBuffer{})
	done := p.begin()

	raw := framePrefix + `{"t":"error","message":"line 1: NameError: x"}` + frameSuffix
	for i := 0; i < len(raw); i++ {
		p.Write([]byte{raw[i]})
	}

	res := <-done
	assert.Equal(t, "line 1: NameError: x", res.err)
}

func TestFrameScannerStrayText(t *testing.T) {
	p, rec := newTestScanner(t, hostfunc.NewRegistry(), &syncBuffer{})
	done := p.begin()

	p.Write([]byte("DeprecationWarning: old\n" + framePrefix + `{"t":"done"}` + frameSuffix))
	<-done

	assert.Equal(t, []protocol.Event{{Kind: protocol.KindWarn, Data: "DeprecationWarning: old"}}, rec.all())
}

func TestFrameScannerUnknownLevelDropped(t *testing.T) {
	p, rec := newTestScanner(t, hostfunc.NewRegistry(), &syncBuffer{})

	p.Write([]byte(framePrefix + `{"t":"out","level":"trace","data":"x"}` + frameSuffix))
	p.Write([]byte(framePrefix + `not json` + frameSuffix))

	assert.Empty(t, rec.all())
}

func TestFrameScannerHostCall(t *testing.T) {
	registry := hostfunc.NewRegistry()
	registry.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["v"], nil
	})
	stdin := &syncBuffer{}
	p, _ := newTestScanner(t, registry, stdin)

	p.Write([]byte(framePrefix + `{"t":"call","fn":"echo","args":{"v":"hi"}}` + frameSuffix))
	p.Write([]byte(framePrefix + `{"t":"call","fn":"missing"}` + frameSuffix))

	require.Eventually(t, func() bool {
		return bytes.Count([]byte(stdin.String()), []byte("\n")) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Contains(t, stdin.String(), `{"data":"hi"}`)
	assert.Contains(t, stdin.String(), `{"error":"unknown function: missing"}`)
}

func TestLineWriter(t *testing.T) {
	rec := &recorder{}
	ref := &sinkRef{}
	ref.set(rec.sink())
	w := newLineWriter(protocol.KindLog, ref)

	w.Write([]byte("one\ntw"))
	w.Write([]byte("o\r\nthree"))
	w.Flush()
	w.Flush()

	assert.Equal(t, []protocol.Event{
		{Kind: protocol.KindLog, Data: "one"},
		{Kind: protocol.KindLog, Data: "two"},
		{Kind: protocol.KindLog, Data: "three"},
	}, rec.all())
}

func TestSinkRefDetached(t *testing.T) {
	ref := &sinkRef{}
	assert.NotPanics(t, func() { ref.emit(protocol.KindLog, "lost") })
}
