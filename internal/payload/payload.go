// Package payload defines the canonical upload payload shared by every
// transport, the schema it is validated against, and the filename sanitizer
// applied to untrusted names.
package payload

// Transport identifies which request body encoding carried an upload.
type Transport string

const (
	TransportJSON     Transport = "json"
	TransportFormData Transport = "formdata"
	TransportStream   Transport = "stream"
)

// UploadPayload is the normalized record sent to validation and to the
// backend notifier, independent of transport. It is assembled once per
// request and never mutated afterwards.
type UploadPayload struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	CID         string `json:"cid"`
	FilecoinURL string `json:"filecoin_url"`
	UserID      string `json:"user_id,omitempty"`
	IsSelfie    bool   `json:"is_selfie"`
	Height      *int   `json:"height,omitempty"`
	Width       *int   `json:"width,omitempty"`
}

// Build assembles a payload from transport-specific extracted fields. UserID
// is kept only when non-empty; height and width are kept independently when
// non-nil (a pointer to 0 is retained). No validation happens here.
func Build(name string, size int64, cid, filecoinURL, userID string, isSelfie bool, height, width *int) *UploadPayload {
	p := &UploadPayload{
		Name:        name,
		Size:        size,
		CID:         cid,
		FilecoinURL: filecoinURL,
		IsSelfie:    isSelfie,
	}
	if userID != "" {
		p.UserID = userID
	}
	if height != nil {
		p.Height = height
	}
	if width != nil {
		p.Width = width
	}
	return p
}

// Fields returns the payload as a field map in the shape the validator and
// the backend wire format expect. Absent optional fields are omitted rather
// than carried as zero values.
func (p *UploadPayload) Fields() map[string]any {
	fields := map[string]any{
		"name":         p.Name,
		"size":         p.Size,
		"cid":          p.CID,
		"filecoin_url": p.FilecoinURL,
		"is_selfie":    p.IsSelfie,
	}
	if p.UserID != "" {
		fields["user_id"] = p.UserID
	}
	if p.Height != nil {
		fields["height"] = *p.Height
	}
	if p.Width != nil {
		fields["width"] = *p.Width
	}
	return fields
}
