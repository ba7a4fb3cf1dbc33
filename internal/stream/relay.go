// Package stream implements the SSE relay: event-by-event forwarding of an
// upstream Server-Sent Events response to the client (events without data
// lines pass unchanged; data events are re-emitted as "data: <payload>",
// optionally with the Cloud-Code envelope unwrapped), with best-effort
// out-of-band usageMetadata capture.
package stream

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"regexp"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const heartbeatInterval = 15 * time.Second

var eventBoundary = regexp.MustCompile(`\r?\n\r?\n`)

// UsageReport captures the token counts extracted from a stream's final
// usageMetadata event, reported at-most-once when the stream ends.
type UsageReport struct {
	PromptTokenCount     int64
	CandidatesTokenCount int64
	TotalTokenCount      int64
	ThinkingTokenCount   int64
}

// ReportFunc is invoked exactly once, fire-and-forget, when totalTokenCount
// is observed to be greater than zero at stream end.
type ReportFunc func(UsageReport)

// Relay forwards an upstream SSE body to an http.ResponseWriter.
type Relay struct {
	w             http.ResponseWriter
	flusher       http.Flusher
	unwrapEnvelope bool
	report        ReportFunc

	buf          *bytes.Buffer
	usage        UsageReport
	usageSeen    bool
	usageReported bool
	headersSent  bool
}

// New constructs a Relay. unwrapEnvelope enables the Cloud-Code-envelope
// unwrap step: only OAuth Gemini dispatches wrap events in {response:{...}};
// API-key Gemini does not, so callers pass false for that case, preserving
// the observed differential behaviour rather than unwrapping
// unconditionally.
func New(w http.ResponseWriter, unwrapEnvelope bool, report ReportFunc) *Relay {
	r := &Relay{w: w, unwrapEnvelope: unwrapEnvelope, report: report, buf: getEventBuffer()}
	if f, ok := w.(http.Flusher); ok {
		r.flusher = f
	}
	return r
}

// FlushHeaders writes the SSE response headers and flushes immediately so
// the client sees a 200 before the first event arrives.
func (r *Relay) FlushHeaders() {
	r.w.Header().Set("Content-Type", "text/event-stream")
	r.w.Header().Set("Cache-Control", "no-cache")
	r.w.Header().Set("Connection", "keep-alive")
	r.w.Header().Set("X-Accel-Buffering", "no")
	r.w.WriteHeader(http.StatusOK)
	if r.flusher != nil {
		r.flusher.Flush()
	}
	r.headersSent = true
}

// HeadersSent reports whether the 200 + SSE headers have already gone out,
// used by the dispatcher to decide between a JSON error and a synthetic
// SSE error block on upstream failure.
func (r *Relay) HeadersSent() bool {
	return r.headersSent
}

// Run reads upstream until EOF, ctx cancellation, or a read error, relaying
// events as they complete and emitting a heartbeat newline after any
// 15-second silence. On a clean upstream EOF, usage is reported at most
// once via the configured ReportFunc.
func (r *Relay) Run(ctx context.Context, upstream io.Reader) error {
	defer putEventBuffer(r.buf)

	chunks := make(chan []byte, 8)
	readErrCh := make(chan error, 1)
	go r.pump(upstream, chunks, readErrCh)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	lastChunk := time.Now()

	for {
		select {
		case <-ctx.Done():
			r.onCancel()
			return ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				err := <-readErrCh
				r.onEnd()
				return err
			}
			lastChunk = time.Now()
			r.buf.Write(chunk)
			r.drainCompleteEvents()
		case <-heartbeat.C:
			if time.Since(lastChunk) >= heartbeatInterval {
				r.write([]byte("\n"))
			}
		}
	}
}

func (r *Relay) pump(upstream io.Reader, chunks chan<- []byte, errCh chan<- error) {
	defer close(chunks)
	br := bufio.NewReaderSize(upstream, 16*1024)
	buf := getChunk()
	defer putChunk(buf)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			chunks <- cp
		}
		if err != nil {
			if err == io.EOF {
				errCh <- nil
			} else {
				errCh <- err
			}
			return
		}
	}
}

// drainCompleteEvents splits the accumulated buffer on blank-line
// boundaries, relays every complete event, and retains the trailing
// partial event for the next chunk.
func (r *Relay) drainCompleteEvents() {
	for {
		loc := eventBoundary.FindIndex(r.buf.Bytes())
		if loc == nil {
			return
		}
		event := make([]byte, loc[0])
		copy(event, r.buf.Bytes()[:loc[0]])
		remaining := r.buf.Bytes()[loc[1]:]
		r.buf.Reset()
		r.buf.Write(remaining)
		r.handleEventBlock(event)
	}
}

// handleEventBlock parses one complete SSE event, captures usage metadata
// if present, optionally unwraps the Cloud-Code envelope, and forwards it.
func (r *Relay) handleEventBlock(evt []byte) {
	payload := extractDataPayload(evt)
	if payload == nil {
		r.write(append(evt, "\n\n"...))
		return
	}

	if bytes.Equal(bytes.TrimSpace(payload), []byte("[DONE]")) || !gjson.ValidBytes(payload) {
		r.write([]byte("data: "))
		r.write(payload)
		r.write([]byte("\n\n"))
		return
	}

	parsed := gjson.ParseBytes(payload)
	r.captureUsage(parsed)

	toSend := payload
	if r.unwrapEnvelope {
		if inner := parsed.Get("response"); inner.Exists() {
			toSend = []byte(inner.Raw)
		}
	}
	r.write([]byte("data: "))
	r.write(toSend)
	r.write([]byte("\n\n"))
}

func (r *Relay) captureUsage(parsed gjson.Result) {
	um := parsed.Get("usageMetadata")
	if !um.Exists() {
		um = parsed.Get("response.usageMetadata")
	}
	if !um.Exists() {
		return
	}
	r.usageSeen = true
	r.usage = UsageReport{
		PromptTokenCount:     um.Get("promptTokenCount").Int(),
		CandidatesTokenCount: um.Get("candidatesTokenCount").Int(),
		TotalTokenCount:      um.Get("totalTokenCount").Int(),
		ThinkingTokenCount:   um.Get("thinkingTokenCount").Int(),
	}
}

func extractDataPayload(evt []byte) []byte {
	lines := bytes.Split(evt, []byte("\n"))
	var parts [][]byte
	found := false
	for _, line := range lines {
		line = bytes.TrimRight(line, "\r")
		if bytes.HasPrefix(line, []byte("data:")) {
			found = true
			parts = append(parts, bytes.TrimPrefix(bytes.TrimPrefix(line, []byte("data:")), []byte(" ")))
		}
	}
	if !found {
		return nil
	}
	return bytes.Join(parts, []byte("\n"))
}

func (r *Relay) write(b []byte) {
	_, err := r.w.Write(b)
	if err != nil {
		log.WithError(err).Debug("stream relay: write to client failed, client likely disconnected")
		return
	}
	if r.flusher != nil {
		r.flusher.Flush()
	}
}

// onCancel emits the synthetic error/DONE block if headers were already
// flushed, preventing a premature close with no terminal event, otherwise
// leaves the caller to respond with a JSON error.
func (r *Relay) onCancel() {
	if r.headersSent {
		r.write([]byte("data: {\"error\":{\"message\":\"upstream cancelled\",\"type\":\"api_error\"}}\n\ndata: [DONE]\n\n"))
	}
	r.reportUsageOnce()
}

func (r *Relay) onEnd() {
	r.reportUsageOnce()
}

// reportUsageOnce fires the usage report exactly once, iff usageReported
// == false and totalTokenCount > 0.
func (r *Relay) reportUsageOnce() {
	if r.usageReported || !r.usageSeen || r.usage.TotalTokenCount <= 0 {
		return
	}
	r.usageReported = true
	if r.report == nil {
		return
	}
	go func(u UsageReport) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Errorf("stream relay: usage report panic: %v", rec)
			}
		}()
		r.report(u)
	}(r.usage)
}

// WriteUpstreamError emits the synthetic error/DONE block directly, used by
// the dispatcher when an upstream mid-stream error arrives and headers are
// already flushed.
func (r *Relay) WriteUpstreamError(message, errType string) {
	escaped := bytes.ReplaceAll([]byte(message), []byte(`"`), []byte(`\"`))
	block := []byte(`data: {"error":{"message":"` + string(escaped) + `","type":"` + errType + `"}}` + "\n\ndata: [DONE]\n\n")
	r.write(block)
}
