// Package transport owns the outbound HTTP path: a proxy-aware connection
// pool keyed per account (http/https/socks5 egress, direct fallback) and
// transparent response decompression for the encodings the gateway
// advertises.
package transport

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// AcceptEncoding is the value dispatch sets on every upstream request; the
// pooled transport disables stdlib's own gzip-only auto-decompression so
// DecodeBody is the single place a compressed response gets unwrapped,
// regardless of which of these three encodings a provider picks.
const AcceptEncoding = "gzip, br, zstd"

// DefaultStreamTimeout is the per-request ceiling for streaming calls,
// defaulting to 600s.
const DefaultStreamTimeout = 600 * time.Second

// DefaultRequestTimeout bounds non-streaming calls.
const DefaultRequestTimeout = 120 * time.Second

type decodeBody struct {
	io.Reader
	onClose func() error
}

func (d *decodeBody) Close() error { return d.onClose() }

// DecodeBody inspects resp's Content-Encoding and, for gzip/br/zstd, returns
// a ReadCloser that transparently decompresses the body; any other value
// (including empty/identity) passes resp.Body through unchanged. Callers
// should reassign resp.Body to the result before any Content-Length-based
// reads or the caller's own defer Close.
func DecodeBody(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: gzip decode: %w", err)
		}
		resp.Header.Del("Content-Encoding")
		return &decodeBody{Reader: zr, onClose: func() error {
			gerr := zr.Close()
			berr := resp.Body.Close()
			if gerr != nil {
				return gerr
			}
			return berr
		}}, nil
	case "br":
		resp.Header.Del("Content-Encoding")
		return &decodeBody{Reader: brotli.NewReader(resp.Body), onClose: resp.Body.Close}, nil
	case "zstd":
		zr, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: zstd decode: %w", err)
		}
		resp.Header.Del("Content-Encoding")
		return &decodeBody{Reader: zr, onClose: func() error {
			zr.Close()
			return resp.Body.Close()
		}}, nil
	default:
		return resp.Body, nil
	}
}
