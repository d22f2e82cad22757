package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fotoowl/uploadgate/internal/api"
	"github.com/fotoowl/uploadgate/internal/config"
	"github.com/fotoowl/uploadgate/internal/ingest"
	"github.com/fotoowl/uploadgate/internal/payload"
	"github.com/fotoowl/uploadgate/internal/piecestore"
)

type fakeStore struct {
	mu      sync.Mutex
	cid     string
	err     error
	lateErr error
	called  bool
	key     string
	data    []byte
	meta    piecestore.Meta
}

func (f *fakeStore) Upload(ctx context.Context, key string, data []byte, meta piecestore.Meta, onComplete func(string)) error {
	f.mu.Lock()
	f.called, f.key, f.data, f.meta = true, key, data, meta
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	onComplete(f.cid)
	return f.lateErr
}

func (f *fakeStore) wasCalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.called
}

type fakeNotifier struct {
	got chan *payload.UploadPayload
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{got: make(chan *payload.UploadPayload, 1)}
}

func (f *fakeNotifier) Notify(ctx context.Context, p *payload.UploadPayload, event *ingest.EventRef) {
	f.got <- p
}

type fetchFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) { return f(ctx, url) }

func testConfig() *config.Config {
	return &config.Config{
		Address:        ":0",
		GatewayBaseURL: "https://gw.test/ipfs",
	}
}

func newTestServer(store api.PieceStore, notifier api.Notifier, fetcher ingest.Fetcher, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if fetcher == nil {
		fetcher = fetchFunc(func(context.Context, string) ([]byte, error) { return nil, errors.New("no fetcher") })
	}
	normalizer := ingest.NewNormalizer(fetcher, log)
	return api.New(testConfig(), store, notifier, normalizer, log).Handler()
}

func streamRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/octet-stream")
	r.Header.Set(ingest.HeaderUserID, "user-1")
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestUploadStreamSuccess(t *testing.T) {
	store := &fakeStore{cid: "bafyuploadedcid123"}
	notifier := newFakeNotifier()
	h := newTestServer(store, notifier, nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, streamRequest(strings.Repeat("x", 200)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "bafyuploadedcid123", body["cid"])
	assert.Equal(t, "https://gw.test/ipfs/bafyuploadedcid123", body["filecoin_url"])
	assert.Equal(t, "untitled", body["name"])
	assert.Equal(t, float64(200), body["size"])
	assert.Equal(t, "user-1", body["user_id"])
	assert.NotEmpty(t, body["timestamp"])
	assert.NotContains(t, body, "event_id")

	assert.True(t, strings.HasPrefix(store.key, "uploads/"))
	assert.True(t, strings.HasSuffix(store.key, "/untitled"))
	assert.Equal(t, "user-1", store.meta.UserID)

	select {
	case p := <-notifier.got:
		assert.Equal(t, "bafyuploadedcid123", p.CID)
	case <-time.After(2 * time.Second):
		t.Fatal("backend notification never dispatched")
	}
}

func TestUploadJSONTransport(t *testing.T) {
	store := &fakeStore{cid: "bafyjsoncid4567890"}
	notifier := newFakeNotifier()
	fetcher := fetchFunc(func(ctx context.Context, url string) ([]byte, error) {
		assert.Equal(t, "https://cdn.example.com/a.jpg", url)
		return bytes.Repeat([]byte("y"), 150), nil
	})
	h := newTestServer(store, notifier, fetcher, nil)

	reqBody := `{"event_id":"ev-9","image_url":"https://cdn.example.com/a.jpg","fotoowl_image_id":7,"name":"gala%20night.jpg"}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(reqBody))
	r.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "ev-9", body["event_id"])
	assert.Equal(t, float64(7), body["fotoowl_image_id"])
	assert.Equal(t, "gala night.jpg", body["name"])
	assert.NotContains(t, body, "user_id")
	assert.True(t, store.wasCalled())
}

func TestUploadJSONDownloadFailureSkipsStorage(t *testing.T) {
	store := &fakeStore{cid: "unused"}
	fetcher := fetchFunc(func(context.Context, string) ([]byte, error) {
		return nil, errors.New("status 404")
	})
	h := newTestServer(store, newFakeNotifier(), fetcher, nil)

	reqBody := `{"event_id":"ev-9","image_url":"https://cdn.example.com/gone.jpg","fotoowl_image_id":7}`
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(reqBody))
	r.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "failed to download image")
	assert.False(t, store.wasCalled())
}

func TestUploadMissingUserID(t *testing.T) {
	store := &fakeStore{cid: "unused"}
	h := newTestServer(store, newFakeNotifier(), nil, nil)

	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 200)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Contains(t, body["error"], "user-id header is required")
	assert.NotEmpty(t, body["timestamp"])
	assert.False(t, store.wasCalled())
}

func TestUploadTooSmall(t *testing.T) {
	store := &fakeStore{cid: "unused"}
	h := newTestServer(store, newFakeNotifier(), nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, streamRequest(strings.Repeat("x", 126)))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, store.wasCalled())
}

func TestUploadStorageFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("gateway unavailable")}
	h := newTestServer(store, newFakeNotifier(), nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, streamRequest(strings.Repeat("x", 200)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "failed to store file", body["error"])
	assert.Contains(t, body["message"], "gateway unavailable")
}

func TestUploadStoreNotConfigured(t *testing.T) {
	h := newTestServer(nil, newFakeNotifier(), nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, streamRequest(strings.Repeat("x", 200)))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "storage not configured", body["error"])
}

func TestUploadValidationFailureStillSucceeds(t *testing.T) {
	// An empty cid fails the schema, but validation only observes.
	store := &fakeStore{cid: ""}
	notifier := newFakeNotifier()
	core, logs := observer.New(zap.WarnLevel)
	h := newTestServer(store, notifier, nil, zap.New(core))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, streamRequest(strings.Repeat("x", 200)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])

	found := false
	for _, entry := range logs.All() {
		if strings.Contains(entry.Message, "failed schema validation") {
			found = true
		}
	}
	assert.True(t, found, "expected a schema validation warning in the logs")

	select {
	case <-notifier.got:
	case <-time.After(2 * time.Second):
		t.Fatal("notification should still be dispatched")
	}
}

func TestUploadLateStoreErrorDoesNotFailResponse(t *testing.T) {
	store := &fakeStore{cid: "bafylatecid123456", lateErr: errors.New("tagging failed")}
	h := newTestServer(store, newFakeNotifier(), nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, streamRequest(strings.Repeat("x", 200)))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "bafylatecid123456", body["cid"])
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(&fakeStore{}, newFakeNotifier(), nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "method not allowed", body["error"])
}

func TestOptionsAnsweredWithCORS(t *testing.T) {
	h := newTestServer(&fakeStore{}, newFakeNotifier(), nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "x-file-name")
	assert.Empty(t, rec.Body.Bytes())
}

func TestHealthz(t *testing.T) {
	h := newTestServer(&fakeStore{}, newFakeNotifier(), nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestUnknownPath(t *testing.T) {
	h := newTestServer(&fakeStore{}, newFakeNotifier(), nil, nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
