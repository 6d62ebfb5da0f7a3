package logstream

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/launcher/pkg/runtime"
)

// muxFrame wraps payload in the daemon's multiplexed log framing.
func muxFrame(stream byte, payload string) []byte {
	header := make([]byte, 8)
	header[0] = stream
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))
	return append(header, payload...)
}

type fakeSource struct {
	data []byte
	err  error
}

func (f *fakeSource) FollowLogs(context.Context, string, int) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

type captureSink struct {
	lines []string
	err   error // returned from Send after the first line when set
}

func (c *captureSink) Send(line string) error {
	c.lines = append(c.lines, line)
	if len(c.lines) > 1 {
		return c.err
	}
	return nil
}

func TestStreamDeliversLines(t *testing.T) {
	var data []byte
	data = append(data, muxFrame(1, "hello from stdout\n")...)
	data = append(data, muxFrame(2, "and stderr\n")...)
	data = append(data, muxFrame(1, "partial")...)

	sink := &captureSink{}
	s := New(&fakeSource{data: data})

	require.NoError(t, s.Stream(context.Background(), "openclaw-abc", sink))
	assert.Equal(t, []string{"hello from stdout", "and stderr", "partial"}, sink.lines)
}

func TestStreamSanitizesLines(t *testing.T) {
	data := muxFrame(1, "bad \xff\xfe utf8\r\n")

	sink := &captureSink{}
	s := New(&fakeSource{data: data})

	require.NoError(t, s.Stream(context.Background(), "openclaw-abc", sink))
	require.Len(t, sink.lines, 1)
	// ToValidUTF8 collapses a run of invalid bytes into one replacement.
	assert.Equal(t, "bad � utf8", sink.lines[0])
}

func TestStreamSplitsOversizedLines(t *testing.T) {
	long := strings.Repeat("a", maxLineBytes+10)
	var data []byte
	data = append(data, muxFrame(1, long+"\n")...)
	data = append(data, muxFrame(1, "after\n")...)

	sink := &captureSink{}
	s := New(&fakeSource{data: data})

	require.NoError(t, s.Stream(context.Background(), "openclaw-abc", sink))
	require.Len(t, sink.lines, 3)
	assert.Len(t, sink.lines[0], maxLineBytes)
	assert.Equal(t, strings.Repeat("a", 10), sink.lines[1])
	assert.Equal(t, "after", sink.lines[2])
}

func TestStreamReportsBrokenStreamInBand(t *testing.T) {
	// A frame header with an unknown stream byte makes the demux fail
	// mid-stream; the consumer still gets the lines before it plus a final
	// error line.
	var data []byte
	data = append(data, muxFrame(1, "before\n")...)
	data = append(data, muxFrame(9, "garbage\n")...)

	sink := &captureSink{}
	s := New(&fakeSource{data: data})

	require.NoError(t, s.Stream(context.Background(), "openclaw-abc", sink))
	assert.Equal(t, []string{"before", LineInternal}, sink.lines)
}

func TestStreamContainerNotFound(t *testing.T) {
	sink := &captureSink{}
	s := New(&fakeSource{err: runtime.ErrNotFound})

	require.NoError(t, s.Stream(context.Background(), "openclaw-abc", sink))
	assert.Equal(t, []string{LineNotFound}, sink.lines)
}

func TestStreamDaemonUnreachable(t *testing.T) {
	sink := &captureSink{}
	s := New(&fakeSource{err: runtime.ErrUnreachable})

	require.NoError(t, s.Stream(context.Background(), "openclaw-abc", sink))
	assert.Equal(t, []string{LineUnreachable}, sink.lines)
}

func TestStreamStopsWhenSinkFails(t *testing.T) {
	var data []byte
	for _, line := range []string{"one\n", "two\n", "three\n"} {
		data = append(data, muxFrame(1, line)...)
	}

	sinkErr := errors.New("consumer gone")
	sink := &captureSink{err: sinkErr}
	s := New(&fakeSource{data: data})

	err := s.Stream(context.Background(), "openclaw-abc", sink)
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, []string{"one", "two"}, sink.lines)
}

// blockingSource never produces data until closed, like a follow stream on a
// quiet container.
type blockingSource struct {
	closed chan struct{}
}

type blockingReader struct{ closed chan struct{} }

func (b *blockingReader) Read([]byte) (int, error) {
	<-b.closed
	return 0, io.EOF
}

func (b *blockingReader) Close() error {
	select {
	case <-b.closed:
	default:
		close(b.closed)
	}
	return nil
}

func (b *blockingSource) FollowLogs(context.Context, string, int) (io.ReadCloser, error) {
	return &blockingReader{closed: b.closed}, nil
}

func TestStreamEndsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	src := &blockingSource{closed: make(chan struct{})}
	s := New(src)

	done := make(chan error, 1)
	go func() {
		done <- s.Stream(ctx, "openclaw-abc", &captureSink{})
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after context cancellation")
	}
}
