package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/session-harvester/internal/delivery"
	"github.com/JakeFAU/session-harvester/internal/harvest"
)

func TestSinkSendAcceptedStatuses(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusOK, http.StatusCreated, http.StatusAccepted} {
		code := code
		t.Run(http.StatusText(code), func(t *testing.T) {
			t.Parallel()
			var got map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodPost, r.Method)
				require.Equal(t, "application/json", r.Header.Get("Content-Type"))
				require.Equal(t, "test-agent", r.Header.Get("User-Agent"))
				body, err := io.ReadAll(r.Body)
				require.NoError(t, err)
				require.NoError(t, json.Unmarshal(body, &got))
				w.WriteHeader(code)
			}))
			defer srv.Close()

			s, err := New(Config{URL: srv.URL, UserAgent: "test-agent"}, srv.Client())
			require.NoError(t, err)
			payload := delivery.Payload{
				Timestamp: time.Now(),
				Source:    "Harvester - alice",
				Account:   "alice",
				Data:      []harvest.Record{{ID: "101", OptionCount: 4}},
			}
			require.NoError(t, s.Send(context.Background(), payload))
			require.Equal(t, "alice", got["account"])
			require.EqualValues(t, 1, got["total_questions"])
		})
	}
}

func TestSinkSendRejectsOtherStatuses(t *testing.T) {
	t.Parallel()

	for _, code := range []int{http.StatusNoContent, http.StatusBadRequest, http.StatusInternalServerError} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(code)
		}))
		s, err := New(Config{URL: srv.URL}, nil)
		require.NoError(t, err)

		err = s.Send(context.Background(), delivery.Payload{Account: "alice"})
		var statusErr *StatusError
		require.True(t, errors.As(err, &statusErr), "status %d", code)
		require.Equal(t, code, statusErr.Code)
		srv.Close()
	}
}

func TestSinkSendTransportError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	s, err := New(Config{URL: url, Timeout: time.Second}, nil)
	require.NoError(t, err)
	require.Error(t, s.Send(context.Background(), delivery.Payload{}))
}

func TestNewRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
}
