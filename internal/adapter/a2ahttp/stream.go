package a2ahttp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"sync"

	"github.com/Strob0t/agentrelay/internal/domain/event"
	"github.com/Strob0t/agentrelay/internal/domain/failure"
)

const maxFrameBytes = 4 << 20

// frameStream reads frames from an SSE or NDJSON response body one at a
// time. It stops reading after the final frame.
type frameStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	body   io.ReadCloser
	rd     *bufio.Reader
	sse    bool
	done   bool
	once   sync.Once
}

func newFrameStream(ctx context.Context, cancel context.CancelFunc, resp *http.Response) *frameStream {
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return &frameStream{
		ctx:    ctx,
		cancel: cancel,
		body:   resp.Body,
		rd:     bufio.NewReaderSize(resp.Body, 32<<10),
		sse:    mt == "text/event-stream",
	}
}

// Next returns the next frame, or io.EOF after the final one. A body that
// ends before a final frame is a ProtocolError.
func (s *frameStream) Next() (event.Frame, error) {
	if s.done {
		return event.Frame{}, io.EOF
	}

	var (
		data []byte
		err  error
	)
	if s.sse {
		data, err = s.nextSSE()
	} else {
		data, err = s.nextLine()
	}
	if err != nil {
		s.done = true
		return event.Frame{}, s.readError(err)
	}

	f, err := decodeFrameData(data)
	if err != nil {
		s.done = true
		return event.Frame{}, err
	}
	if f.Event.Final {
		s.done = true
	}
	return f, nil
}

// Close cancels the request and releases the connection.
func (s *frameStream) Close() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.body.Close()
	})
	return err
}

func (s *frameStream) readError(err error) error {
	if errors.Is(err, io.EOF) {
		return failure.Protocol(nil, "stream ended without a final frame")
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		if isTimeout(ctxErr) {
			return failure.Unreachable(ctxErr, "stream deadline exceeded")
		}
		return failure.Unreachable(ctxErr, "stream cancelled")
	}
	if errors.Is(err, bufio.ErrBufferFull) {
		return failure.Protocol(err, "frame exceeds %d bytes", maxFrameBytes)
	}
	return failure.Unreachable(err, "read stream")
}

// nextLine returns the next non-empty NDJSON line.
func (s *frameStream) nextLine() ([]byte, error) {
	for {
		line, err := s.readLine()
		if len(bytes.TrimSpace(line)) > 0 {
			return line, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// nextSSE returns the data of the next SSE event, joining multi-line data
// fields with newlines. Comments and other fields are skipped.
func (s *frameStream) nextSSE() ([]byte, error) {
	var buf []byte
	have := false
	for {
		line, err := s.readLine()
		line = bytes.TrimRight(line, "\r")
		switch {
		case len(line) == 0:
			if have {
				return buf, nil
			}
		case line[0] == ':':
		case bytes.HasPrefix(line, []byte("data:")):
			v := bytes.TrimPrefix(line[5:], []byte(" "))
			if have {
				buf = append(buf, '\n')
			}
			buf = append(buf, v...)
			have = true
		}
		if err != nil {
			if have && errors.Is(err, io.EOF) {
				return buf, nil
			}
			return nil, err
		}
	}
}

// readLine reads one line without its trailing newline. A final line
// without a newline is returned together with io.EOF.
func (s *frameStream) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := s.rd.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxFrameBytes {
			return nil, bufio.ErrBufferFull
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimRight(line, "\n"), err
	}
}
