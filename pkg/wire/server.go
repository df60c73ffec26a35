package wire

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
)

// maxLineBytes bounds one request line. Large file-op payloads fit well
// inside this.
const maxLineBytes = 10 * 1024 * 1024

// Server reads line-delimited JSON tool calls and writes one JSON response
// line per call. Logs go to slog (stderr), never to the response stream.
type Server struct {
	dispatcher *Dispatcher
	in         io.Reader
	out        io.Writer

	writeMu sync.Mutex
}

// NewServer wires a server over explicit streams; pass os.Stdin/os.Stdout in
// production.
func NewServer(dispatcher *Dispatcher, in io.Reader, out io.Writer) *Server {
	return &Server{dispatcher: dispatcher, in: in, out: out}
}

// Serve processes requests until EOF or ctx cancellation. Each request is
// handled on its own goroutine; responses may interleave across requests but
// each response is a single atomic line.
func (s *Server) Serve(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var wg sync.WaitGroup
	defer wg.Wait()

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var call Call
		if err := json.Unmarshal([]byte(line), &call); err != nil {
			s.writeLine([]byte(fmt.Sprintf(
				`{"success":false,"error":"malformed request: %s"}`, jsonEscape(err.Error()))))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handle(ctx, &call)
		}()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading requests: %w", err)
	}
	return nil
}

func (s *Server) handle(ctx context.Context, call *Call) {
	resp, err := s.dispatcher.Dispatch(ctx, call)
	if err != nil {
		slog.Error("Dispatch failed to encode response", "tool", call.Tool, "error", err)
		resp = []byte(`{"success":false,"error":"internal encoding failure"}`)
	}
	s.writeLine(resp)
}

func (s *Server) writeLine(data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		slog.Error("Writing response failed", "error", err)
	}
}

func jsonEscape(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return strings.Trim(string(data), `"`)
}
