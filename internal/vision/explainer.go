// Package vision talks to an OpenAI-compatible chat endpoint with an image
// attached and returns the model's text.
package vision

//go:generate mockgen -source=explainer.go -destination=mock_vision/mock_explainer.go -package=mock_vision

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
)

var ErrEmptyResponse = errors.New("vision: model returned no content")

// Request is one prompt plus one image.
type Request struct {
	Model       string
	Prompt      string
	ImageBase64 string
	MaxTokens   int
}

// Explainer is implemented by the vision model client.
type Explainer interface {
	Explain(ctx context.Context, req Request) (string, error)
}

// DataURL builds the data: URL for a base64 image, sniffing the media type
// from the decoded header. Unknown content is sent as JPEG.
func DataURL(imageBase64 string) string {
	mediaType := "image/jpeg"
	head := imageBase64
	if len(head) > 684 {
		head = head[:684]
	}
	if raw, err := base64.StdEncoding.DecodeString(head); err == nil {
		if ct := http.DetectContentType(raw); len(ct) > 6 && ct[:6] == "image/" {
			mediaType = ct
		}
	}
	return "data:" + mediaType + ";base64," + imageBase64
}
