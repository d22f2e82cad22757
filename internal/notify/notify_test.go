package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fotoowl/uploadgate/internal/ingest"
	"github.com/fotoowl/uploadgate/internal/notify"
	"github.com/fotoowl/uploadgate/internal/payload"
)

func samplePayload() *payload.UploadPayload {
	return payload.Build("a.jpg", 2048, "bafyexamplecid", "https://gw.example.com/ipfs/bafyexamplecid", "user-1", false, nil, nil)
}

func TestNotifyPostsPayload(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotBody map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		data, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(data, &gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := notify.New(srv.URL, "secret-key", srv.Client(), zap.NewNop())
	n.Notify(context.Background(), samplePayload(), &ingest.EventRef{EventID: "ev-1", FotoowlImageID: float64(42)})

	assert.Equal(t, "/api/upload/complete", gotPath)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "a.jpg", gotBody["name"])
	assert.Equal(t, "bafyexamplecid", gotBody["cid"])
	assert.Equal(t, "user-1", gotBody["user_id"])
	assert.Equal(t, "ev-1", gotBody["event_id"])
	assert.Equal(t, float64(42), gotBody["fotoowl_image_id"])
}

func TestNotifyOmitsAuthWithoutKey(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	n := notify.New(srv.URL, "", srv.Client(), zap.NewNop())
	n.Notify(context.Background(), samplePayload(), nil)
	assert.Empty(t, gotAuth)
}

func TestNotifySkipsWhenUnconfigured(t *testing.T) {
	n := notify.New("", "", nil, zap.NewNop())
	// Must not panic or attempt any request.
	n.Notify(context.Background(), samplePayload(), nil)
}

func TestNotifySwallowsBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := notify.New(srv.URL, "", srv.Client(), zap.NewNop())
	n.Notify(context.Background(), samplePayload(), nil)
}
