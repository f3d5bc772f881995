package harvest

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordValid(t *testing.T) {
	t.Parallel()

	require.True(t, Record{ID: "1", OptionCount: 2}.Valid())
	require.False(t, Record{ID: "", OptionCount: 2}.Valid())
	require.False(t, Record{ID: "1"}.Valid())
}

func TestRecordMarshalJSONFlattensFields(t *testing.T) {
	t.Parallel()

	rec := Record{
		ID:          "42",
		ExtractedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		OptionCount: 1,
		Fields: map[string]any{
			"subject": "math",
			"id":      "ignored",
		},
	}
	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, "42", out["id"])
	require.Equal(t, "math", out["subject"])
	require.Equal(t, "2026-01-02T03:04:05Z", out["extracted_at"])
}

func TestBlockConditionKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cond    BlockCondition
		key     string
		blocked bool
	}{
		{"zero value", BlockCondition{}, "none", false},
		{"none", NoBlock, "none", false},
		{"captcha", HardBlock(KindCaptcha, ""), "captcha", true},
		{"rate limit", HardBlock(KindRateLimit, "Just a moment"), "rate_limit", true},
		{"layout", BlockCondition{Class: ConditionLayoutChange}, "layout_change", true},
		{"loading", BlockCondition{Class: ConditionLoadingError}, "loading_error", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.key, tc.cond.Key())
			require.Equal(t, tc.blocked, tc.cond.Blocked())
		})
	}
	require.Equal(t, "rate_limit: Just a moment", HardBlock(KindRateLimit, "Just a moment").String())
}
