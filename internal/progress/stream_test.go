package progress

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamForwardsUntilTerminal(t *testing.T) {
	t.Parallel()

	ch := NewChannel(time.Second)
	require.NoError(t, ch.Send(Status(0, "Starting lead generation...")))
	require.NoError(t, ch.Send(Status(100, "No leads found")))
	require.NoError(t, ch.Send(Terminal()))

	rec := httptest.NewRecorder()
	outcome, err := Stream(context.Background(), rec, ch, StreamOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeComplete, outcome)
	assert.True(t, rec.Flushed)

	frames := splitFrames(rec.Body.String())
	require.Equal(t, []string{
		`{"progress":{"percentage":0,"message":"Starting lead generation..."}}`,
		`{"progress":{"percentage":100,"message":"No leads found"}}`,
		`{"status":"complete"}`,
	}, frames)
}

func TestStreamIdleTimeoutWritesSingleError(t *testing.T) {
	t.Parallel()

	ch := NewChannel(20 * time.Millisecond)
	var buf bytes.Buffer
	outcome, err := Stream(context.Background(), &buf, ch, StreamOptions{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, outcome)
	assert.Equal(t, []string{`{"error":"Stream timeout"}`}, splitFrames(buf.String()))

	// The producer keeps running without blocking or growing the queue.
	require.NoError(t, ch.Send(Status(30, "Found 3 leads")))
	assert.Equal(t, 0, ch.Len())
}

func TestStreamPacesEvents(t *testing.T) {
	t.Parallel()

	ch := NewChannel(time.Second)
	require.NoError(t, ch.Send(Status(0, "a")))
	require.NoError(t, ch.Send(Status(50, "b")))
	require.NoError(t, ch.Send(Terminal()))

	start := time.Now()
	_, err := Stream(context.Background(), &bytes.Buffer{}, ch, StreamOptions{MinInterval: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestStreamAbandonsOnDisconnect(t *testing.T) {
	t.Parallel()

	ch := NewChannel(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	outcome, err := Stream(ctx, &bytes.Buffer{}, ch, StreamOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, OutcomeDisconnected, outcome)
	require.NoError(t, ch.Send(Status(0, "orphaned")))
	assert.Equal(t, 0, ch.Len())
}

func TestStreamAbandonsOnWriteFailure(t *testing.T) {
	t.Parallel()

	ch := NewChannel(time.Second)
	require.NoError(t, ch.Send(Status(0, "start")))
	require.NoError(t, ch.Send(Status(30, "found")))

	outcome, err := Stream(context.Background(), failingWriter{}, ch, StreamOptions{})
	require.Error(t, err)
	assert.Equal(t, OutcomeDisconnected, outcome)
	assert.Equal(t, 0, ch.Len())
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, WriteError(&buf, "regions and category are required"))
	assert.Equal(t, "data: {\"error\":\"regions and category are required\"}\n\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func splitFrames(body string) []string {
	var frames []string
	for _, chunk := range strings.Split(body, "\n\n") {
		if chunk == "" {
			continue
		}
		frames = append(frames, strings.TrimPrefix(chunk, "data: "))
	}
	return frames
}
