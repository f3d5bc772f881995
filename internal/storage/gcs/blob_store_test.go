package gcs_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/JakeFAU/session-harvester/internal/storage/gcs"
)

func newTestStore(t *testing.T, cfg gcs.Config, handler http.Handler) *gcs.BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := gcs.New(client, cfg)
	require.NoError(t, err)
	return store
}

func TestPutObject(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/archive/o")
		assert.Equal(t, "run/alice/101.json", r.URL.Query().Get("name"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), `{"id":"101"}`)
		fmt.Fprintln(w, `{"name":"run/alice/101.json","bucket":"archive"}`)
	})

	store := newTestStore(t, gcs.Config{Bucket: "archive"}, handler)
	uri, err := store.PutObject(context.Background(), "run/alice/101.json", "application/json", bytes.NewReader([]byte(`{"id":"101"}`)))
	require.NoError(t, err)
	assert.Equal(t, "gs://archive/run/alice/101.json", uri)
}

func TestPutObjectServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store := newTestStore(t, gcs.Config{Bucket: "archive"}, handler)
	_, err := store.PutObject(context.Background(), "run/alice/101.json", "", bytes.NewReader([]byte("x")))
	assert.Error(t, err)
}

func TestPutObjectCreateOnlyTreatsExistingAsWritten(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get("ifGenerationMatch"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPreconditionFailed)
		fmt.Fprintln(w, `{"error":{"code":412,"message":"conditionNotMet"}}`)
	})

	store := newTestStore(t, gcs.Config{Bucket: "archive", CreateOnly: true}, handler)
	uri, err := store.PutObject(context.Background(), "run/alice/101.json", "", bytes.NewReader([]byte("x")))
	require.NoError(t, err)
	assert.Equal(t, "gs://archive/run/alice/101.json", uri)
}

func TestNewValidation(t *testing.T) {
	_, err := gcs.New(nil, gcs.Config{Bucket: "b"})
	assert.Error(t, err)
}
