package seed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

// ParseIDs decodes a JSON array of objects and returns their "id" fields.
// Numeric ids are stringified; entries without an id are ignored.
func ParseIDs(body []byte) ([]harvest.RecordID, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var items []map[string]any
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("decode seed payload: %w", err)
	}
	ids := make([]harvest.RecordID, 0, len(items))
	for _, item := range items {
		id, ok := idString(item["id"])
		if !ok {
			continue
		}
		ids = append(ids, harvest.RecordID(id))
	}
	return ids, nil
}

func idString(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		id = strings.TrimSpace(id)
		return id, id != ""
	case json.Number:
		return id.String(), true
	default:
		return "", false
	}
}
