// Package sha256 fingerprints harvested records.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// Hasher fingerprints records by the SHA-256 of their JSON form.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Sum returns the hex digest of data.
func (h *Hasher) Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Record digests rec without its extraction time, so the same content
// extracted by two identities hashes equal.
func (h *Hasher) Record(rec harvest.Record) (string, error) {
	rec.ExtractedAt = time.Time{}
	body, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	return h.Sum(body), nil
}
