// Package stdio provides the stdio transport adapter for the gateway.
//
// Frames are newline-delimited JSON-RPC, one per line, the framing MCP
// clients use for local subprocess servers. All stdio traffic shares
// the "local" rate-limit identity.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fullstorydev/fs-lexicon-sub001/internal/ctxkey"
	"github.com/fullstorydev/fs-lexicon-sub001/internal/service"
)

// Scanner buffer sizes. Lines beyond the max are a protocol violation.
const (
	initialBufSize = 256 * 1024
	maxLineSize    = 1024 * 1024
)

// Transport is the inbound stdio adapter over the dispatch service.
type Transport struct {
	dispatch *service.DispatchService
	logger   *slog.Logger
}

// NewTransport creates the stdio transport.
func NewTransport(dispatch *service.DispatchService, logger *slog.Logger) *Transport {
	return &Transport{
		dispatch: dispatch,
		logger:   logger,
	}
}

// Start serves frames from stdin until EOF or context cancellation.
func (t *Transport) Start(ctx context.Context) error {
	return t.Run(ctx, os.Stdin, os.Stdout)
}

// Run drives the line loop over explicit reader/writer pairs, which is
// what tests use.
func (t *Transport) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	ctx = context.WithValue(ctx, ctxkey.ClientIPKey{}, "local")
	ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, t.logger)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, initialBufSize), maxLineSize)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		reply := t.dispatch.Handle(ctx, line)
		if len(reply.Body) == 0 {
			continue
		}
		if _, err := out.Write(append(reply.Body, '\n')); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read frame: %w", err)
	}
	t.logger.Debug("stdio input closed")
	return nil
}

// Close gracefully shuts down the transport. Stdio holds no resources.
func (t *Transport) Close() error {
	return nil
}
