package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart      Stage = "RUN_START"
	StageRunDone       Stage = "RUN_DONE"
	StageWorkerStart   Stage = "WORKER_START"
	StageWorkerDone    Stage = "WORKER_DONE"
	StageRecordNew     Stage = "RECORD_NEW"
	StageRecordSkipped Stage = "RECORD_SKIPPED"
	StageSoftError     Stage = "SOFT_ERROR"
	StagePaused        Stage = "PAUSED"
	StageResumed       Stage = "RESUMED"
	StageDelivery      Stage = "DELIVERY"
)

// Outcome is the result of a delivery attempt.
type Outcome string

// Delivery outcomes.
const (
	OutcomeOK     Outcome = "ok"
	OutcomeFailed Outcome = "failed"
)

// Event captures one step of harvest progress.
type Event struct {
	// RunID identifies the run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Stage Stage
	// Identity names the worker; empty only for run-level stages.
	Identity string
	// RecordID is set for record stages.
	RecordID string
	// Condition is the blocking condition key for PAUSED/RESUMED.
	Condition string
	// Outcome and Count describe a DELIVERY of Count records.
	Outcome Outcome
	Count   int
	// Dur is the pause length, delivery latency or worker runtime.
	Dur time.Duration
	// Note carries low-volume context such as an error message.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone:
		return e.validateDur()
	case StageWorkerStart, StageWorkerDone, StageRecordNew, StageRecordSkipped, StageSoftError:
	case StagePaused, StageResumed:
		if e.Condition == "" {
			return fmt.Errorf("%s requires condition", e.Stage)
		}
	case StageDelivery:
		if e.Outcome != OutcomeOK && e.Outcome != OutcomeFailed {
			return fmt.Errorf("delivery requires outcome, got %q", e.Outcome)
		}
		if e.Count <= 0 {
			return errors.New("delivery requires a positive count")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Identity == "" {
		return fmt.Errorf("%s requires identity", e.Stage)
	}
	return e.validateDur()
}

func (e Event) validateDur() error {
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// Recorder stamps events with a run id and clock before emitting them.
type Recorder struct {
	emitter Emitter
	runID   [16]byte
	now     func() time.Time
}

// NewRecorder builds a Recorder. A nil emitter discards events.
func NewRecorder(emitter Emitter, runID uuid.UUID, now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{emitter: emitter, runID: UUIDToBytes(runID), now: now}
}

// Emit fills RunID and TS, then forwards evt.
func (r *Recorder) Emit(evt Event) {
	if r == nil || r.emitter == nil {
		return
	}
	evt.RunID = r.runID
	if evt.TS.IsZero() {
		evt.TS = r.now().UTC()
	}
	r.emitter.Emit(evt)
}
