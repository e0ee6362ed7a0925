package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the lifecycle point represented by a Milestone.
type Stage string

// Supported milestone stages.
const (
	StageJobStart   Stage = "JOB_START"
	StageRegionDone Stage = "REGION_DONE"
	StageResult     Stage = "RESULT"
	StageJobDone    Stage = "JOB_DONE"
	StageJobError   Stage = "JOB_ERROR"
)

// Milestone is a lifecycle signal fed to the Hub for telemetry. Unlike Event it
// is never shown to the streaming client.
type Milestone struct {
	// JobID identifies the job run.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Region scopes REGION_DONE milestones.
	Region string
	// Count carries records found for a region or the job's final total.
	Count int
	// Failed marks a region whose source call errored.
	Failed bool
	// Score is the confidence of a RESULT milestone.
	Score float64
	// Dur captures region fetch latency or total job runtime.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Milestone payloads.
func (m Milestone) Validate() error {
	if m.JobID == "" {
		return errors.New("job id is required")
	}
	if m.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch m.Stage {
	case StageJobStart, StageJobDone, StageJobError:
	case StageRegionDone:
		if m.Region == "" {
			return errors.New("region done requires region")
		}
	case StageResult:
		if m.Score < 0 || m.Score > 1 {
			return fmt.Errorf("score %v out of range", m.Score)
		}
	default:
		return fmt.Errorf("unknown stage %q", m.Stage)
	}
	if m.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
