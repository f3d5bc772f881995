package detector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/session-harvester/internal/harvest"
)

func TestHeuristicEvaluate(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(0, nil, nil)
	long := strings.Repeat("texto da questão ", 20)

	cases := []struct {
		name string
		page Page
		want harvest.BlockCondition
	}{
		{
			name: "content present wins over markers",
			page: Page{
				BodyPresent:      true,
				NextPresent:      true,
				BodyText:         "short",
				Source:           "Just a moment Please wait challenge-platform",
				ChallengeVisible: true,
			},
			want: harvest.NoBlock,
		},
		{
			name: "short body with two lockout markers is rate limit",
			page: Page{BodyText: "Just a moment", Source: "Just a moment... Checking your browser"},
			want: harvest.HardBlock(harvest.KindRateLimit, "traffic filter page"),
		},
		{
			name: "single lockout marker is not enough",
			page: Page{BodyText: "Please wait", Source: "Please wait"},
			want: harvest.BlockCondition{Class: harvest.ConditionLayoutChange, Detail: "record body and next control missing"},
		},
		{
			name: "long body with markers falls through to captcha",
			page: Page{BodyText: long, Source: "Just a moment Please wait", ChallengeVisible: true},
			want: harvest.HardBlock(harvest.KindCaptcha, "challenge widget visible"),
		},
		{
			name: "lockout markers match regardless of case",
			page: Page{BodyText: "JUST A MOMENT...", Source: `<div id="cf-browser-verification"></div>`},
			want: harvest.HardBlock(harvest.KindRateLimit, "traffic filter page"),
		},
		{
			name: "marker in text and markup counts once",
			page: Page{BodyText: "Please wait", Source: "<p>Please wait</p>"},
			want: harvest.BlockCondition{Class: harvest.ConditionLayoutChange, Detail: "record body and next control missing"},
		},
		{
			name: "error marker is loading error",
			page: Page{BodyPresent: true, BodyText: long + " Error 500", Source: "<h1>Error 500</h1>"},
			want: harvest.BlockCondition{Class: harvest.ConditionLoadingError, Detail: "error 500"},
		},
		{
			name: "error marker only in markup is ignored",
			page: Page{BodyPresent: true, BodyText: long, Source: `<script>var msg = "Error 404";</script>`},
			want: harvest.BlockCondition{Class: harvest.ConditionLayoutChange, Detail: "next control missing"},
		},
		{
			name: "missing next control is layout change",
			page: Page{BodyPresent: true, BodyText: long, Source: "<div></div>"},
			want: harvest.BlockCondition{Class: harvest.ConditionLayoutChange, Detail: "next control missing"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, h.Evaluate(tc.page))
		})
	}
}

func TestNewHeuristicLowercasesMarkers(t *testing.T) {
	t.Parallel()

	h := NewHeuristic(10, []string{"Hold on", " ", "Verifying"}, []string{"Service Unavailable"})
	require.Equal(t, 10, h.MinBodyChars)
	require.Equal(t, []string{"hold on", "verifying"}, h.LockoutMarkers)
	require.Equal(t, []string{"service unavailable"}, h.ErrorMarkers)

	cond := h.Evaluate(Page{BodyText: "503 SERVICE UNAVAILABLE", Source: "<h1>503</h1>"})
	require.Equal(t, harvest.ConditionLoadingError, cond.Class)

	cond = h.Evaluate(Page{BodyText: "HOLD ON", Source: "<p>Verifying you are human</p>"})
	require.Equal(t, harvest.KindRateLimit, cond.Kind)
}

type stubProber struct {
	page Page
	err  error
}

func (s stubProber) Probe(context.Context) (Page, error) {
	return s.page, s.err
}

func TestSessionClassifierProbeErrorIsNoBlock(t *testing.T) {
	t.Parallel()

	c := NewSessionClassifier(stubProber{err: errors.New("target closed")}, nil, zap.NewNop())
	cond, err := c.Classify(context.Background())
	require.NoError(t, err)
	require.False(t, cond.Blocked())
}

func TestSessionClassifierEvaluatesProbe(t *testing.T) {
	t.Parallel()

	c := NewSessionClassifier(stubProber{page: Page{ChallengeVisible: true, BodyText: strings.Repeat("x", 200)}}, nil, nil)
	cond, err := c.Classify(context.Background())
	require.NoError(t, err)
	require.Equal(t, harvest.KindCaptcha, cond.Kind)
	require.True(t, cond.Blocked())
}

func TestSessionClassifierCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := NewSessionClassifier(stubProber{err: context.Canceled}, nil, nil)
	_, err := c.Classify(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
