package progress

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/leadstream/internal/lead"
)

// Kind tags the variant held by an Event.
type Kind int

// Event variants.
const (
	KindStatus Kind = iota + 1
	KindResult
	KindTerminal
)

func (k Kind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindResult:
		return "result"
	case KindTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Event is one message on a job's progress channel: a status update, a verified
// record, or the terminal marker that closes the stream.
type Event struct {
	Kind Kind
	// Percentage and Message are set for KindStatus.
	Percentage int
	Message    string
	// Failed marks the status emitted when the job aborts.
	Failed bool
	// Record is set for KindResult.
	Record lead.Annotated
}

// Status builds a status event, clamping the percentage to [0, 100].
func Status(percentage int, message string) Event {
	return Event{Kind: KindStatus, Percentage: clampPercentage(percentage), Message: message}
}

// Failure builds the status event that reports a job-fatal error.
func Failure(err error) Event {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return Event{Kind: KindStatus, Percentage: 0, Message: "Error: " + msg, Failed: true}
}

// Result wraps one verified record.
func Result(rec lead.Annotated) Event {
	return Event{Kind: KindResult, Record: rec}
}

// Terminal marks the end of a job's events.
func Terminal() Event {
	return Event{Kind: KindTerminal}
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	switch e.Kind {
	case KindStatus:
		if e.Percentage < 0 || e.Percentage > 100 {
			return fmt.Errorf("percentage %d out of range", e.Percentage)
		}
		if e.Message == "" {
			return errors.New("status requires message")
		}
	case KindResult:
		if lead.CleanText(e.Record.Name) == "" {
			return errors.New("result requires a named record")
		}
	case KindTerminal:
	default:
		return fmt.Errorf("unknown event kind %d", int(e.Kind))
	}
	return nil
}

type progressBody struct {
	Percentage int    `json:"percentage"`
	Message    string `json:"message"`
	Failed     bool   `json:"failed,omitempty"`
}

type progressFrame struct {
	Progress progressBody `json:"progress"`
}

type resultFrame struct {
	Result lead.Annotated `json:"result"`
}

type statusFrame struct {
	Status string `json:"status"`
}

type errorFrame struct {
	Error string `json:"error"`
}

// MarshalJSON renders the event in its stream wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case KindStatus:
		return json.Marshal(progressFrame{Progress: progressBody{
			Percentage: e.Percentage,
			Message:    e.Message,
			Failed:     e.Failed,
		}})
	case KindResult:
		return json.Marshal(resultFrame{Result: e.Record})
	case KindTerminal:
		return json.Marshal(statusFrame{Status: "complete"})
	default:
		return nil, fmt.Errorf("marshal event: unknown kind %d", int(e.Kind))
	}
}

func clampPercentage(p int) int {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
