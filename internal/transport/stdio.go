// Package transport implements the two wire-level front ends the control
// plane exposes: newline-delimited JSON-RPC over stdio, and JSON-RPC plus
// a best-effort event stream over HTTP.
package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ops-core/server/internal/protocol"
	"github.com/ops-core/server/internal/session"
)

const maxLineBytes = 1 << 20

// Stdio runs the JSON-RPC engine over newline-delimited stdin/stdout
// frames. One goroutine scans incoming lines and hands each line to its
// own dispatch goroutine so a slow tools/call (an SSH command, a log
// tail) never blocks the next request from being read; one goroutine
// owns stdout so concurrent responses never interleave mid-write.
// Modeled on barun-bash-human's mcp.Transport, generalized from its
// lock-step read-dispatch-write loop to this concurrent shape.
type Stdio struct {
	engine *protocol.Engine
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

func NewStdio(engine *protocol.Engine, in io.Reader, out io.Writer, logger *slog.Logger) *Stdio {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stdio{engine: engine, in: in, out: out, logger: logger}
}

// Run blocks until stdin reaches EOF or ctx is cancelled. Stdio serves
// exactly one client for the process lifetime, so a single session is
// created up front and attached to every dispatched request's context.
func (s *Stdio) Run(ctx context.Context) error {
	sess := session.New()
	defer sess.Close()
	connCtx := session.WithSession(ctx, sess)

	writes := make(chan []byte, 64)
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		for line := range writes {
			if _, err := s.out.Write(line); err != nil {
				s.logger.Error("stdio write failed", "error", err)
			}
		}
	}()

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var inFlight sync.WaitGroup
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		payload := append([]byte(nil), line...)

		inFlight.Add(1)
		go func() {
			defer inFlight.Done()
			resp := s.engine.HandleMessage(connCtx, payload)
			if resp == nil {
				return
			}
			framed := append(resp, '\n')
			select {
			case writes <- framed:
			case <-ctx.Done():
			}
		}()
	}

	inFlight.Wait()
	close(writes)
	writer.Wait()

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("transport: reading stdin: %w", err)
	}
	return nil
}
