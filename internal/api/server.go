// Package api exposes the upload endpoint and orchestrates normalization,
// storage, validation and backend notification for each request.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fotoowl/uploadgate/internal/config"
	"github.com/fotoowl/uploadgate/internal/ingest"
	"github.com/fotoowl/uploadgate/internal/payload"
	"github.com/fotoowl/uploadgate/internal/piecestore"
)

// PieceStore stores upload bytes on the storage network. onComplete fires
// with the assigned piece identifier as soon as the bytes are acknowledged,
// possibly before Upload itself returns all bookkeeping done.
type PieceStore interface {
	Upload(ctx context.Context, objectKey string, data []byte, meta piecestore.Meta, onComplete func(cid string)) error
}

// Notifier delivers the canonical payload to the backend.
type Notifier interface {
	Notify(ctx context.Context, p *payload.UploadPayload, event *ingest.EventRef)
}

// Server hosts the HTTP upload surface.
type Server struct {
	cfg        *config.Config
	store      PieceStore
	notifier   Notifier
	normalizer *ingest.Normalizer
	log        *zap.Logger
	server     *http.Server
	once       sync.Once
}

// New constructs a Server. store may be nil when storage credentials are
// absent; uploads then fail with a configuration error per request.
func New(cfg *config.Config, store PieceStore, notifier Notifier, normalizer *ingest.Normalizer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:        cfg,
		store:      store,
		notifier:   notifier,
		normalizer: normalizer,
		log:        log,
	}
}

// Handler returns the routed and middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	return corsMiddleware(s.loggingMiddleware(mux))
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: s.Handler(),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("listening", zap.String("address", s.cfg.Address))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodPost:
		s.handleUpload(w, r)
	default:
		s.respondFailure(w, http.StatusMethodNotAllowed, "method not allowed", "")
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if hint := r.Header.Get(ingest.HeaderUploadMethod); hint != "" {
		s.log.Debug("upload method hint", zap.String("method", hint))
	}
	r.Body = http.MaxBytesReader(w, r.Body, payload.MaxFileBytes+1024)

	up, err := s.normalizer.Normalize(r)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if err := ingest.CheckSize(len(up.Data)); err != nil {
		s.respondError(w, err)
		return
	}
	if s.store == nil {
		s.respondFailure(w, http.StatusInternalServerError, "storage not configured",
			"storage gateway credentials are missing")
		return
	}

	objectKey := fmt.Sprintf("uploads/%s/%s", uuid.NewString(), up.Name)
	meta := piecestore.Meta{Name: up.Name, UserID: up.UserID, Selfie: up.IsSelfie}

	// The response is released on the store's first completion signal, not
	// on Upload returning. Bookkeeping the store performs after signalling
	// stays on the detached context and cannot reach this response.
	uploadCtx := context.WithoutCancel(r.Context())
	completed := make(chan string, 1)
	failed := make(chan error, 1)
	go func() {
		err := s.store.Upload(uploadCtx, objectKey, up.Data, meta, func(cid string) {
			select {
			case completed <- cid:
			default:
			}
		})
		if err != nil {
			failed <- err
		}
	}()

	var cid string
	select {
	case cid = <-completed:
	case err := <-failed:
		select {
		case cid = <-completed:
			// Completion was signalled before the failure surfaced; the
			// upload stands and the error is only logged.
			s.log.Error("storage client error after completion signal", zap.Error(err))
		default:
			s.log.Error("storage upload failed", zap.Error(err))
			s.respondFailure(w, http.StatusInternalServerError, "failed to store file", err.Error())
			return
		}
	}

	p := payload.Build(up.Name, int64(len(up.Data)), cid,
		piecestore.GatewayURL(s.cfg.GatewayBaseURL, cid),
		up.UserID, up.IsSelfie, up.Height, up.Width)

	// Validation here is observability, not a gate: a schema miss is logged
	// and the payload is still forwarded and acknowledged.
	if res := payload.Validate(p.Fields(), up.Transport); !res.Valid {
		s.log.Warn("payload failed schema validation",
			zap.String("cid", cid),
			zap.String("transport", string(up.Transport)),
			zap.Any("errors", res.Errors))
	}

	if s.notifier != nil {
		go s.notifier.Notify(context.WithoutCancel(r.Context()), p, up.Event)
	}

	body := p.Fields()
	body["success"] = true
	body["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	if up.Event != nil {
		body["event_id"] = up.Event.EventID
		body["fotoowl_image_id"] = up.Event.FotoowlImageID
	}
	s.log.Info("upload stored",
		zap.String("cid", cid),
		zap.String("transport", string(up.Transport)),
		zap.Int("size", len(up.Data)))
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	s.respondFailure(w, ingest.StatusFor(err), err.Error(), "")
}

func (s *Server) respondFailure(w http.ResponseWriter, status int, message, detail string) {
	body := map[string]any{
		"error":     message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if detail != "" {
		body["message"] = detail
	}
	respondJSON(w, status, body)
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers",
			"Content-Type,Authorization,user-id,x-file-name,x-file-size,x-upload-method,x-image-type,x-image-height,x-image-width")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}
