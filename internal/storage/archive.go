package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/harvest"
	"github.com/JakeFAU/session-harvester/internal/hash/sha256"
)

// BlobArchive writes each record as <prefix>/<run>/<identity>/<id>.json.
type BlobArchive struct {
	store  BlobStore
	prefix string
	runID  string
	hasher *sha256.Hasher
	now    func() time.Time
	logger *zap.Logger
}

// NewBlobArchive wraps store. runID groups a run's objects together.
func NewBlobArchive(store BlobStore, prefix, runID string, logger *zap.Logger) (*BlobArchive, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if strings.TrimSpace(runID) == "" {
		return nil, errors.New("run id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BlobArchive{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		runID:  runID,
		hasher: sha256.New(),
		now:    time.Now,
		logger: logger.Named("archive"),
	}, nil
}

type archivedRecord struct {
	RunID         string         `json:"run_id"`
	Identity      string         `json:"identity"`
	ArchivedAt    time.Time      `json:"archived_at"`
	ContentSHA256 string         `json:"content_sha256"`
	Record        harvest.Record `json:"record"`
}

// ObjectPath returns the object key used for record.
func (a *BlobArchive) ObjectPath(identity string, id harvest.RecordID) string {
	return path.Join(a.prefix, a.runID, sanitize(identity), sanitize(string(id))+".json")
}

// Save implements harvest.Archive.
func (a *BlobArchive) Save(ctx context.Context, identity string, record harvest.Record) error {
	if record.ID == "" {
		return errors.New("record id is required")
	}
	digest, err := a.hasher.Record(record)
	if err != nil {
		return err
	}
	body, err := json.Marshal(archivedRecord{
		RunID:         a.runID,
		Identity:      identity,
		ArchivedAt:    a.now().UTC(),
		ContentSHA256: digest,
		Record:        record,
	})
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.ID, err)
	}
	key := a.ObjectPath(identity, record.ID)
	uri, err := a.store.PutObject(ctx, key, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	a.logger.Debug("record archived", zap.String("identity", identity), zap.String("uri", uri))
	return nil
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}

// MultiArchive saves every record to each archive in order and joins their
// errors.
type MultiArchive []harvest.Archive

// Save implements harvest.Archive.
func (m MultiArchive) Save(ctx context.Context, identity string, record harvest.Record) error {
	var errs []error
	for _, a := range m {
		if a == nil {
			continue
		}
		if err := a.Save(ctx, identity, record); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
