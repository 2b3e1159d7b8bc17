package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"privcomm/internal/domain"
)

func TestPublishAndFetchBundle(t *testing.T) {
	var published domain.PreKeyBundle

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/register":
			if err := json.NewDecoder(r.Body).Decode(&published); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/keys/alice":
			// Return the bundle with a single one-time key, like the server
			// consuming one from the batch.
			out := published
			if len(out.OneTimePreKeys) > 1 {
				out.OneTimePreKeys = out.OneTimePreKeys[:1]
			}
			_ = json.NewEncoder(w).Encode(out)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	in := domain.PreKeyBundle{
		PeerID:         "alice",
		SignedPreKeyID: 1,
		OneTimePreKeys: []domain.OneTimePreKeyPublic{{ID: 1}, {ID: 2}, {ID: 3}},
	}
	if err := c.PublishBundle(context.Background(), in); err != nil {
		t.Fatalf("PublishBundle: %v", err)
	}

	got, err := c.FetchBundle(context.Background(), "alice")
	if err != nil {
		t.Fatalf("FetchBundle: %v", err)
	}
	if got.PeerID != "alice" || got.SignedPreKeyID != 1 {
		t.Fatalf("unexpected bundle: %+v", got)
	}
	if opk := got.OneTimePreKey(); opk == nil || opk.ID != 1 {
		t.Fatalf("want one one-time key with id 1, got %+v", got.OneTimePreKeys)
	}
}

func TestFetchBundleNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	if _, err := c.FetchBundle(context.Background(), "nobody"); err == nil {
		t.Fatal("want error for missing peer")
	}
}
