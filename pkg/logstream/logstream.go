// Package logstream bridges a container's follow-mode log output onto a
// line-oriented sink. The HTTP layer supplies the sink (an SSE response or a
// websocket); this package owns demuxing, line splitting, sanitizing, and
// stream accounting.
package logstream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openclaw/launcher/pkg/log"
	"github.com/openclaw/launcher/pkg/metrics"
	"github.com/openclaw/launcher/pkg/runtime"
)

// backlogLines is how many historical lines a new stream starts with.
const backlogLines = 50

// maxLineBytes caps a single log line; longer lines are delivered in
// buffer-sized pieces rather than killing the stream.
const maxLineBytes = 64 * 1024

// Error lines sent in-band before the stream closes, so a consumer that only
// reads the stream still learns why it ended.
const (
	LineNotFound    = "stream error: container not found"
	LineUnreachable = "stream error: docker unreachable"
	LineInternal    = "stream error: log stream failed"
)

// Sink receives log lines. Send returning an error ends the stream; Streamer
// never calls Send concurrently.
type Sink interface {
	Send(line string) error
}

// LogSource is the slice of the runtime adapter the streamer consumes.
// *runtime.Docker satisfies it.
type LogSource interface {
	FollowLogs(ctx context.Context, name string, tail int) (io.ReadCloser, error)
}

// Streamer fans container logs out to per-request sinks. Each Stream call is
// independent; there is no shared subscription state.
type Streamer struct {
	source LogSource
	logger zerolog.Logger
}

func New(source LogSource) *Streamer {
	return &Streamer{
		source: source,
		logger: log.WithComponent("logstream"),
	}
}

// Stream follows the named container's logs and sends each line to sink
// until the container exits, ctx is cancelled, or sink refuses a line. A
// missing container or unreachable daemon is reported as a final in-band
// line, not an error; the returned error reflects only sink failures.
func (s *Streamer) Stream(ctx context.Context, name string, sink Sink) error {
	stream := uuid.NewString()
	logger := s.logger.With().Str("stream", stream).Str("container", name).Logger()

	rc, err := s.source.FollowLogs(ctx, name, backlogLines)
	switch {
	case errors.Is(err, runtime.ErrNotFound):
		return sink.Send(LineNotFound)
	case errors.Is(err, runtime.ErrUnreachable):
		return sink.Send(LineUnreachable)
	case err != nil:
		logger.Warn().Err(err).Msg("log follow failed to open")
		return sink.Send(LineInternal)
	}

	metrics.LogStreamsActive.Inc()
	defer metrics.LogStreamsActive.Dec()
	logger.Debug().Msg("log stream opened")
	start := time.Now()

	// The daemon connection only unblocks on Close, so ctx cancellation has
	// to reach in from the side.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		rc.Close()
	}()

	pr, pw := io.Pipe()
	go func() {
		err := runtime.DemuxLogs(pw, rc)
		pw.CloseWithError(err)
	}()

	reader := bufio.NewReaderSize(pr, maxLineBytes)
	for {
		// ReadLine hands back a full-buffer piece of an over-long line; each
		// piece goes out as its own line so no output is ever dropped.
		chunk, _, err := reader.ReadLine()
		if len(chunk) > 0 {
			if sendErr := sink.Send(sanitize(string(chunk))); sendErr != nil {
				pr.Close()
				logger.Debug().Dur("duration", time.Since(start)).Msg("log stream consumer gone")
				return sendErr
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				logger.Debug().Err(err).Msg("log stream ended with error")
				return sink.Send(LineInternal)
			}
			break
		}
	}

	logger.Debug().Dur("duration", time.Since(start)).Msg("log stream closed")
	return nil
}

// sanitize makes a log line safe for text transports: invalid UTF-8 is
// replaced and stray carriage returns are dropped.
func sanitize(line string) string {
	line = strings.TrimSuffix(line, "\r")
	return strings.ToValidUTF8(line, "�")
}
