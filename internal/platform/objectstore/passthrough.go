package objectstore

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/google/uuid"

	"github.com/easelhq/easel-api/internal/job"
)

// Passthrough is the artifact store used when mirroring is disabled.
// Provider-hosted URLs pass through untouched; inline bytes become data
// URIs so byte-only results stay renderable without a storage tier.
type Passthrough struct{}

// Ensure Passthrough implements the job pipeline's artifact seam.
var _ job.ArtifactStore = (*Passthrough)(nil)

// NewPassthrough creates the no-storage artifact store.
func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

func (*Passthrough) StoreImage(_ context.Context, _, _ uuid.UUID, _ string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func (*Passthrough) MirrorURL(_ context.Context, _, _ uuid.UUID, _, srcURL string) (string, error) {
	return srcURL, nil
}
