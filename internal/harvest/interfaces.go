package harvest

import (
	"context"
	"errors"
	"time"
)

// ErrSessionClosed is returned by sessions used after Close.
var ErrSessionClosed = errors.New("session closed")

// Session drives one remote interactive session for a single identity.
type Session interface {
	// Authenticate performs the automated part of the login flow. The
	// operator completes the rest out-of-band.
	Authenticate(ctx context.Context, identity Identity) error
	// OpenListing navigates to the page where source-side filters are set.
	OpenListing(ctx context.Context) error
	// EssentialContentPresent reports the two independent content signals:
	// the record body and the next-record affordance.
	EssentialContentPresent(ctx context.Context) (body bool, next bool, err error)
	// ReadQuickIdentifier reads only the current record's identifier.
	ReadQuickIdentifier(ctx context.Context) (RecordID, bool, error)
	// ExtractFull extracts every field of the current record. ok is false
	// when the page yielded no usable record.
	ExtractFull(ctx context.Context) (Record, bool, error)
	// AdvanceToNext moves to the following record and reports whether its
	// content became present within the session's bounded wait.
	AdvanceToNext(ctx context.Context) (bool, error)
	// SuppressTransientOverlays removes and disables page-level popups.
	SuppressTransientOverlays(ctx context.Context) error
	Close() error
}

// Classifier classifies the live session state.
type Classifier interface {
	Classify(ctx context.Context) (BlockCondition, error)
}

// MicroBehavior performs the human-like gestures for a skip profile.
type MicroBehavior interface {
	PerformSkip(ctx context.Context, profile SkipProfile) error
}

// SkipStrategy chooses the skip profile for the next duplicate.
type SkipStrategy interface {
	Choose() SkipProfile
}

// Pacer inserts humanized idle time.
type Pacer interface {
	Break(ctx context.Context) error
}

// Acknowledger blocks until an operator acknowledges that the condition
// affecting identity has been resolved.
type Acknowledger interface {
	AwaitAck(ctx context.Context, identity string, cond BlockCondition) error
}

// Confirmer blocks until the operator confirms a manual step.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) error
}

// Pauser suspends a worker until the operator resolves a blocking condition.
type Pauser interface {
	Pause(ctx context.Context, identity string, cond BlockCondition) error
}

// SeedSource retrieves the identifiers already harvested by previous runs.
type SeedSource interface {
	FetchIDs(ctx context.Context) ([]RecordID, error)
}

// Archive durably stores accepted records before delivery.
type Archive interface {
	Save(ctx context.Context, identity string, record Record) error
}

// Gate is a one-shot barrier workers wait on.
type Gate interface {
	Wait(ctx context.Context) error
}

// Clock returns the current time and sleeps in a context-aware way.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}
