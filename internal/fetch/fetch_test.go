package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var wasm = append([]byte("\x00asm\x01\x00\x00\x00"), bytes.Repeat([]byte{0}, 64)...)

func gzipped(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstded(t *testing.T, data []byte) []byte {
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestModule(t *testing.T) {
	files := map[string][]byte{
		"/raw.wasm":     wasm,
		"/mod.wasm.gz":  gzipped(t, wasm),
		"/mod.wasm.zst": zstded(t, wasm),
		"/page.html":    []byte("<!DOCTYPE html><html><body>not found</body></html>"),
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	client := NewClient()
	client.RetryMax = 0

	for _, path := range []string{"/raw.wasm", "/mod.wasm.gz", "/mod.wasm.zst"} {
		t.Run(path, func(t *testing.T) {
			dest := filepath.Join(t.TempDir(), "modules", "lang.wasm")
			require.NoError(t, Module(context.Background(), client, srv.URL+path, dest))
			got, err := os.ReadFile(dest)
			require.NoError(t, err)
			assert.Equal(t, wasm, got)
		})
	}

	t.Run("not wasm", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "lang.wasm")
		err := Module(context.Background(), client, srv.URL+"/page.html", dest)
		assert.ErrorIs(t, err, ErrNotWasm)
		assert.NoFileExists(t, dest)
	})

	t.Run("missing", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "lang.wasm")
		err := Module(context.Background(), client, srv.URL+"/nope", dest)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
		assert.NoFileExists(t, dest)
	})
}
