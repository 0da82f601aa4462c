// Package fleet uploads exported scenes to a fleet space.
package fleet

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AzyAli/map3d/internal/core/domain"
)

// Form values expected by the mesh upload endpoint.
const (
	UploadPath     = "space/file/mesh"
	UploadFilename = "box3d.glb"
	UploadTitle    = "New Object"
)

var tracer = otel.Tracer("github.com/AzyAli/map3d/internal/adapters/fleet")

// Uploader implements ports.ArtifactUploader. Uploads are attempted once.
type Uploader struct {
	endpoint string
	token    string
	session  *http.Client
}

// New creates an Uploader for the API rooted at apiBase. token, when set,
// is sent as a bearer token. A nil client selects http.DefaultClient; the
// caller's context bounds each upload.
func New(apiBase, token string, client *http.Client) *Uploader {
	if client == nil {
		client = http.DefaultClient
	}
	return &Uploader{
		endpoint: strings.TrimRight(apiBase, "/") + "/" + UploadPath,
		token:    token,
		session:  client,
	}
}

// Upload posts the artifact as a new object in spaceID.
func (u *Uploader) Upload(ctx context.Context, art *domain.ExportArtifact, spaceID string) error {
	if art == nil || len(art.Data) == 0 {
		return errors.New("fleet upload: empty artifact")
	}
	if spaceID == "" {
		return errors.New("fleet upload: space id is required")
	}

	ctx, span := tracer.Start(ctx, "fleet.upload")
	span.SetAttributes(
		attribute.String("fleet.space_id", spaceID),
		attribute.Int("fleet.bytes", art.Size()),
	)
	defer span.End()

	body, contentType, err := form(art, spaceID)
	if err != nil {
		return fmt.Errorf("fleet upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, body)
	if err != nil {
		return fmt.Errorf("fleet upload: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if u.token != "" {
		req.Header.Set("Authorization", "Bearer "+u.token)
	}

	resp, err := u.session.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("fleet upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		err := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		span.RecordError(err)
		return fmt.Errorf("fleet upload: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func form(art *domain.ExportArtifact, spaceID string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="object"; filename=%q`, UploadFilename))
	h.Set("Content-Type", art.MediaType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(art.Data); err != nil {
		return nil, "", err
	}

	for _, f := range [][2]string{
		{"title", UploadTitle},
		{"description", ""},
		{"spaceId", spaceID},
	} {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}

// StatusError is a non-2xx answer from the fleet API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}
