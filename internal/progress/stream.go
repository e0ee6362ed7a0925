package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// DefaultMinInterval is the pause between forwarded events.
const DefaultMinInterval = 500 * time.Millisecond

// Outcome describes how a stream ended.
type Outcome string

// Stream outcomes.
const (
	OutcomeComplete     Outcome = "complete"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeError        Outcome = "error"
	OutcomeDisconnected Outcome = "disconnected"
)

// StreamOptions tunes the stream adapter.
//   - MinInterval: pause after each forwarded event (zero disables pacing).
//   - Logger: optional structured logger.
type StreamOptions struct {
	MinInterval time.Duration
	Logger      *zap.Logger
}

// Stream forwards events from ch to w as server-sent event frames until the
// terminal event, an idle timeout, or a client disconnect. If w implements
// http.Flusher every frame is flushed. The returned error is non-nil only when
// the client went away; the channel is abandoned in that case.
func Stream(ctx context.Context, w io.Writer, ch *Channel, opts StreamOptions) (Outcome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	flusher, _ := w.(http.Flusher)

	for {
		evt, err := ch.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				ch.Abandon()
				return OutcomeDisconnected, fmt.Errorf("stream: %w", ctx.Err())
			}
			outcome := OutcomeError
			if errors.Is(err, ErrStreamTimeout) {
				outcome = OutcomeTimeout
			}
			logger.Warn("progress stream ended early", zap.Error(err))
			if werr := writeFrame(w, flusher, errorFrame{Error: err.Error()}); werr != nil {
				ch.Abandon()
				return OutcomeDisconnected, werr
			}
			ch.Abandon()
			return outcome, nil
		}

		if err := writeFrame(w, flusher, evt); err != nil {
			ch.Abandon()
			return OutcomeDisconnected, err
		}
		if evt.Kind == KindTerminal {
			return OutcomeComplete, nil
		}
		if err := pause(ctx, opts.MinInterval); err != nil {
			ch.Abandon()
			return OutcomeDisconnected, fmt.Errorf("stream: %w", err)
		}
	}
}

// WriteError writes a single error frame, used when a job cannot be started.
func WriteError(w io.Writer, msg string) error {
	flusher, _ := w.(http.Flusher)
	return writeFrame(w, flusher, errorFrame{Error: msg})
}

func writeFrame(w io.Writer, flusher http.Flusher, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
