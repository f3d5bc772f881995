// Package delivery forwards accepted records to a downstream sink, one at a
// time or in fixed-size batches. Delivery is best effort: a failed send is
// counted and never retried.
package delivery

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// Sink transmits one payload. A nil error means the receiver accepted it.
type Sink interface {
	Send(ctx context.Context, payload Payload) error
}

// BatchTag labels a batched payload. Final marks the drain-time remainder.
type BatchTag struct {
	Number int
	Final  bool
	Size   int
}

// Label returns the batch_number value as text.
func (b BatchTag) Label() string {
	if b.Final {
		return "final"
	}
	return strconv.Itoa(b.Number)
}

// Payload is the envelope sent to sinks.
type Payload struct {
	Timestamp time.Time
	Source    string
	Account   string
	RunID     string
	Data      []harvest.Record
	Batch     *BatchTag
}

type wirePayload struct {
	Timestamp      string           `json:"timestamp"`
	TotalQuestions int              `json:"total_questions"`
	Source         string           `json:"source"`
	Account        string           `json:"account"`
	RunID          string           `json:"run_id,omitempty"`
	Data           []harvest.Record `json:"data"`
	BatchNumber    any              `json:"batch_number,omitempty"`
	BatchSize      int              `json:"batch_size,omitempty"`
}

// MarshalJSON renders batch_number as an integer, or the string "final" for
// the drain-time batch.
func (p Payload) MarshalJSON() ([]byte, error) {
	data := p.Data
	if data == nil {
		data = []harvest.Record{}
	}
	w := wirePayload{
		Timestamp:      p.Timestamp.Format(time.RFC3339Nano),
		TotalQuestions: len(data),
		Source:         p.Source,
		Account:        p.Account,
		RunID:          p.RunID,
		Data:           data,
	}
	if p.Batch != nil {
		if p.Batch.Final {
			w.BatchNumber = "final"
		} else {
			w.BatchNumber = p.Batch.Number
		}
		w.BatchSize = p.Batch.Size
	}
	return json.Marshal(w)
}
