// Package ingest turns the three supported upload transports into one
// normalized intermediate record ready for storage and payload assembly.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/fotoowl/uploadgate/internal/payload"
)

// Headers consumed on the upload endpoint.
const (
	HeaderUserID       = "user-id"
	HeaderFileName     = "x-file-name"
	HeaderFileSize     = "x-file-size"
	HeaderUploadMethod = "x-upload-method"
	HeaderImageType    = "x-image-type"
	HeaderImageHeight  = "x-image-height"
	HeaderImageWidth   = "x-image-width"

	selfieSentinel = "selfie"
)

// Terminal failures raised while normalizing a request. The API layer maps
// them to HTTP statuses via StatusFor.
var (
	ErrMissingUserID  = errors.New("user-id header is required")
	ErrInvalidJSON    = errors.New("invalid json body")
	ErrMissingFields  = errors.New("missing required fields")
	ErrDownloadFailed = errors.New("failed to download image")
	ErrBadMultipart   = errors.New("expecting multipart form")
	ErrNoFile         = errors.New("no file provided in form data")
	ErrFileTooSmall   = fmt.Errorf("file must be at least %d bytes", payload.MinFileBytes)
	ErrFileTooLarge   = fmt.Errorf("file exceeds %d bytes", payload.MaxFileBytes)
)

// StatusFor maps a normalization failure to its HTTP status.
func StatusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes), errors.Is(err, ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrMissingUserID),
		errors.Is(err, ErrInvalidJSON),
		errors.Is(err, ErrMissingFields),
		errors.Is(err, ErrDownloadFailed),
		errors.Is(err, ErrBadMultipart),
		errors.Is(err, ErrNoFile),
		errors.Is(err, ErrFileTooSmall):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// CheckSize applies the global byte bounds that every transport must satisfy
// before any storage-network call.
func CheckSize(n int) error {
	if n < payload.MinFileBytes {
		return ErrFileTooSmall
	}
	if n > payload.MaxFileBytes {
		return ErrFileTooLarge
	}
	return nil
}

// EventRef carries the json-transport reference to the originating backend
// event. EventID and FotoowlImageID arrive as strings or numbers in the wild
// and are echoed back verbatim.
type EventRef struct {
	EventID        any    `json:"event_id"`
	FotoowlImageID any    `json:"fotoowl_image_id"`
	ImageURL       string `json:"image_url"`
}

// Upload is the uniform record every transport branch produces.
type Upload struct {
	Transport payload.Transport
	Data      []byte
	Name      string
	UserID    string
	IsSelfie  bool
	Height    *int
	Width     *int
	Event     *EventRef
}

// Fetcher downloads remote image bytes for the json transport.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// DetectTransport decides the upload transport from the declared content
// type. Anything that is neither json nor multipart falls to stream.
func DetectTransport(contentType string) payload.Transport {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "application/json"):
		return payload.TransportJSON
	case strings.Contains(ct, "multipart/form-data"):
		return payload.TransportFormData
	default:
		return payload.TransportStream
	}
}

// Normalizer extracts transport-specific fields from inbound requests.
type Normalizer struct {
	fetcher Fetcher
	log     *zap.Logger
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer(fetcher Fetcher, log *zap.Logger) *Normalizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Normalizer{fetcher: fetcher, log: log}
}

// Normalize dispatches on the request's transport and extracts file bytes
// plus metadata. For non-json transports the user-id header is checked
// before the body is touched.
func (n *Normalizer) Normalize(r *http.Request) (*Upload, error) {
	transport := DetectTransport(r.Header.Get("Content-Type"))
	up := &Upload{
		Transport: transport,
		UserID:    r.Header.Get(HeaderUserID),
		IsSelfie:  r.Header.Get(HeaderImageType) == selfieSentinel,
	}
	if transport != payload.TransportJSON && up.UserID == "" {
		return nil, ErrMissingUserID
	}
	if transport != payload.TransportJSON {
		up.Height = parseDimension(r.Header.Get(HeaderImageHeight))
		up.Width = parseDimension(r.Header.Get(HeaderImageWidth))
	}

	var err error
	switch transport {
	case payload.TransportJSON:
		err = n.normalizeJSON(r, up)
	case payload.TransportFormData:
		err = n.normalizeForm(r, up)
	default:
		err = n.normalizeStream(r, up)
	}
	if err != nil {
		return nil, err
	}
	return up, nil
}

type jsonUpload struct {
	EventID        any    `json:"event_id"`
	ImageURL       string `json:"image_url"`
	FotoowlImageID any    `json:"fotoowl_image_id"`
	Name           string `json:"name"`
	Height         any    `json:"height"`
	Width          any    `json:"width"`
}

func (n *Normalizer) normalizeJSON(r *http.Request, up *Upload) error {
	var body jsonUpload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if !truthy(body.EventID) || body.ImageURL == "" || !truthy(body.FotoowlImageID) {
		return ErrMissingFields
	}
	up.Name = payload.SanitizeFileName(decodeName(body.Name))
	up.Height = dimensionFromAny(body.Height)
	up.Width = dimensionFromAny(body.Width)
	up.Event = &EventRef{
		EventID:        body.EventID,
		FotoowlImageID: body.FotoowlImageID,
		ImageURL:       body.ImageURL,
	}
	data, err := n.fetcher.Fetch(r.Context(), body.ImageURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	up.Data = data
	return nil
}

func (n *Normalizer) normalizeForm(r *http.Request, up *Upload) error {
	mr, err := r.MultipartReader()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadMultipart, err)
	}
	var fileSeen bool
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBadMultipart, err)
		}
		switch part.FormName() {
		case "file":
			if fileSeen {
				part.Close()
				continue
			}
			data, err := io.ReadAll(part)
			part.Close()
			if err != nil {
				return fmt.Errorf("read file part: %w", err)
			}
			up.Data = data
			up.Name = payload.SanitizeFileName(decodeName(part.FileName()))
			fileSeen = true
		case "height":
			up.Height = overrideDimension(part, up.Height)
		case "width":
			up.Width = overrideDimension(part, up.Width)
		default:
			part.Close()
		}
	}
	if !fileSeen {
		return ErrNoFile
	}
	return nil
}

func (n *Normalizer) normalizeStream(r *http.Request, up *Upload) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	up.Data = data
	up.Name = payload.SanitizeFileName(decodeName(r.Header.Get(HeaderFileName)))
	if declared := r.Header.Get(HeaderFileSize); declared != "" {
		if size, err := strconv.ParseInt(declared, 10, 64); err == nil && size != int64(len(data)) {
			n.log.Warn("declared file size disagrees with received bytes",
				zap.Int64("declared", size),
				zap.Int("received", len(data)))
		}
	}
	return nil
}

// decodeName URL-decodes a client-supplied name, keeping the raw value when
// it is not valid percent-encoding.
func decodeName(raw string) string {
	decoded, err := url.QueryUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func parseDimension(raw string) *int {
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	return &v
}

func overrideDimension(part io.ReadCloser, current *int) *int {
	defer part.Close()
	data, err := io.ReadAll(io.LimitReader(part, 32))
	if err != nil {
		return current
	}
	if v := parseDimension(string(data)); v != nil {
		return v
	}
	return current
}

func dimensionFromAny(v any) *int {
	switch n := v.(type) {
	case float64:
		i := int(n)
		return &i
	case string:
		return parseDimension(n)
	default:
		return nil
	}
}

// truthy mirrors the wire contract for "present": nil, empty string, zero
// and false all count as missing.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case bool:
		return t
	case float64:
		return t != 0
	default:
		return true
	}
}
