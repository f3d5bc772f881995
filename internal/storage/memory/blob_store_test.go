package memory

import (
	"bytes"
	"context"
	"testing"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "run/alice/1.json", "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("PutObject() error = %v", err)
	}
	if uri != "memory://run/alice/1.json" {
		t.Fatalf("unexpected uri %s", uri)
	}
	got, ok := store.Get("run/alice/1.json")
	if !ok {
		t.Fatal("object missing")
	}
	got[0] = 'C'
	again, _ := store.Get("run/alice/1.json")
	if string(again) != "content" {
		t.Fatalf("expected stored copy to be immutable, got %q", again)
	}
	if keys := store.Keys(); len(keys) != 1 || keys[0] != "run/alice/1.json" {
		t.Fatalf("unexpected keys %v", keys)
	}
}
