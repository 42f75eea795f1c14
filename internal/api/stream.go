// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxFrameSize is the maximum allowed size for a single stream frame (64KB).
const MaxFrameSize = 64 * 1024

// =============================================================================
// STREAM ERROR
// =============================================================================

// StreamError is a transport failure mid-stream, preserving how much
// content had been received before the connection broke.
type StreamError struct {
	Received int // tokens delivered before the error
	Err      error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Received > 0 {
		return fmt.Sprintf("stream error after %d events: %v", e.Received, e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// SSE READER
// =============================================================================

// SSEReader decodes newline-delimited `data: <json>` frames.
// bufio handles partial lines across chunk boundaries; a frame is not
// surfaced until its terminating newline arrives.
type SSEReader struct {
	reader *bufio.Reader
	log    *zap.Logger
}

// NewSSEReader creates a reader over a streaming response body.
func NewSSEReader(r io.Reader, log *zap.Logger) *SSEReader {
	if log == nil {
		log = zap.NewNop()
	}
	return &SSEReader{
		reader: bufio.NewReaderSize(r, 4096),
		log:    log,
	}
}

// ReadEvent returns the next decoded event. Malformed frames are logged
// and skipped; one bad frame must not abort an otherwise healthy stream.
// Returns io.EOF when the transport closes without a terminal event.
func (s *SSEReader) ReadEvent() (StreamEvent, error) {
	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(line)) == 0 {
				return StreamEvent{}, io.EOF
			}
			if len(bytes.TrimSpace(line)) == 0 {
				return StreamEvent{}, err
			}
			// Fall through and try to decode the final unterminated line.
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if len(line) > MaxFrameSize {
			s.log.Warn("oversized stream frame skipped", zap.Int("size", len(line)))
			continue
		}

		// Only `data:` fields carry events; ignore comments and other fields.
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(line[5:])

		var event StreamEvent
		if jsonErr := json.Unmarshal(payload, &event); jsonErr != nil {
			s.log.Warn("malformed stream frame skipped", zap.Error(jsonErr))
			if err != nil {
				return StreamEvent{}, err
			}
			continue
		}
		if event.Type == "" {
			s.log.Warn("untyped stream frame skipped")
			if err != nil {
				return StreamEvent{}, err
			}
			continue
		}
		return event, nil
	}
}

// =============================================================================
// STREAMING QUERY
// =============================================================================

// QueryStream issues a question and delivers decoded events to the
// callback in transport order. It blocks until a terminal event, stream
// close, or context cancellation. The callback runs on the calling
// goroutine, so handlers execute strictly sequentially.
func (c *Client) QueryStream(ctx context.Context, q QueryRequest, callback StreamCallback) error {
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/query/stream", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		return c.errorFromResponse(resp.StatusCode, body)
	}

	return c.processStream(ctx, resp.Body, callback)
}

// processStream drains the event stream until a terminal event.
func (c *Client) processStream(ctx context.Context, body io.Reader, callback StreamCallback) error {
	reader := NewSSEReader(body, c.log)
	delivered := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, err := reader.ReadEvent()
		if err != nil {
			if err == io.EOF {
				// Stream closed without a done event; the caller decides
				// whether the accumulated answer is usable.
				return nil
			}
			return &StreamError{Received: delivered, Err: err}
		}

		callback(event)
		delivered++

		if event.IsTerminal() {
			return nil
		}
	}
}
