package seed

import (
	"context"
	"fmt"
	"os"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// FileSource reads the seed from a local JSON file in the HTTP format.
type FileSource struct {
	Path string
}

// FetchIDs implements harvest.SeedSource.
func (s FileSource) FetchIDs(ctx context.Context) ([]harvest.RecordID, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	body, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseIDs(body)
}

// StaticSource serves a fixed list, or a fixed error.
type StaticSource struct {
	IDs []harvest.RecordID
	Err error
}

// FetchIDs implements harvest.SeedSource.
func (s StaticSource) FetchIDs(context.Context) ([]harvest.RecordID, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]harvest.RecordID(nil), s.IDs...), nil
}
