// Package notify posts finished uploads to the backend. Delivery is best
// effort: outcomes are logged and never reach the caller-facing response.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/fotoowl/uploadgate/internal/ingest"
	"github.com/fotoowl/uploadgate/internal/payload"
)

const completePath = "/api/upload/complete"

// Notifier delivers upload notifications to the configured backend.
type Notifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
	log     *zap.Logger
}

// New constructs a Notifier. A nil client defaults to http.DefaultClient; an
// empty base URL turns every Notify into a logged no-op.
func New(baseURL, apiKey string, client *http.Client, log *zap.Logger) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifier{baseURL: baseURL, apiKey: apiKey, client: client, log: log}
}

// Notify POSTs the canonical payload, extended with the json-transport event
// reference when present. Failures are swallowed after logging.
func (n *Notifier) Notify(ctx context.Context, p *payload.UploadPayload, event *ingest.EventRef) {
	if n.baseURL == "" {
		n.log.Debug("backend url not configured, skipping notification", zap.String("cid", p.CID))
		return
	}
	body := p.Fields()
	if event != nil {
		body["event_id"] = event.EventID
		body["fotoowl_image_id"] = event.FotoowlImageID
	}
	buf, err := json.Marshal(body)
	if err != nil {
		n.log.Error("marshal notification", zap.Error(err))
		return
	}
	url := strings.TrimSuffix(n.baseURL, "/") + completePath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(buf))
	if err != nil {
		n.log.Error("build notification request", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		n.log.Warn("backend notification failed", zap.String("cid", p.CID), zap.Error(err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	n.log.Info("backend notified",
		zap.String("cid", p.CID),
		zap.Int("status", resp.StatusCode))
}
