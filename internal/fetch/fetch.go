// Package fetch downloads WASI interpreter modules into the module cache.
package fetch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// MaxModuleBytes caps a decompressed module.
const MaxModuleBytes = 512 << 20

var ErrNotWasm = errors.New("downloaded file is not a WebAssembly module")

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// NewClient returns a client with the default retry policy and no request
// logging.
func NewClient() *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.Logger = nil
	return c
}

// Module downloads url to dest. gzip and zstd bodies are decompressed, and
// the result must be a WebAssembly binary. dest is replaced atomically.
func Module(ctx context.Context, client *retryablehttp.Client, url, dest string) error {
	if client == nil {
		client = NewClient()
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", url, resp.Status)
	}

	body, err := decompress(resp.Body)
	if err != nil {
		return err
	}
	defer body.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".fetch-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(body, MaxModuleBytes+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write module: %w", err)
	}
	if n > MaxModuleBytes {
		return fmt.Errorf("module exceeds %d bytes", MaxModuleBytes)
	}

	mtype, err := mimetype.DetectFile(tmp.Name())
	if err != nil {
		return err
	}
	if !mtype.Is("application/wasm") {
		return fmt.Errorf("%w (got %s)", ErrNotWasm, mtype.String())
	}
	return os.Rename(tmp.Name(), dest)
}

// decompress sniffs the stream and unwraps gzip or zstd.
func decompress(r io.Reader) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	head, _ := br.Peek(4)

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %w", err)
		}
		return gz, nil
	case bytes.HasPrefix(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open zstd stream: %w", err)
		}
		return dec.IOReadCloser(), nil
	}
	return io.NopCloser(br), nil
}
