package face

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/opensource-finance/rationguard/internal/domain"
)

// Extractor turns a face image into an embedding.
type Extractor interface {
	// Extract returns domain.ErrNoFaceDetected when the image has no face and
	// domain.ErrUpstream when the service cannot be reached.
	Extract(ctx context.Context, image []byte) (Embedding, error)
}

// HTTPExtractor calls an external embedding service. The image is posted as the
// multipart file field "file"; the service replies with {"embedding": [...]}
// or 422 when no face is found.
type HTTPExtractor struct {
	url    string
	client *http.Client
}

// NewHTTPExtractor creates an extractor for url. A nil client gets a pooled client with timeout.
func NewHTTPExtractor(url string, timeout time.Duration, client *http.Client) *HTTPExtractor {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	if client == nil {
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &HTTPExtractor{url: url, client: client}
}

type extractResponse struct {
	Embedding Embedding `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Extract uploads the image and decodes the returned embedding.
func (e *HTTPExtractor) Extract(ctx context.Context, image []byte) (Embedding, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: image is empty", domain.ErrValidation)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "capture.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(image); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build extractor request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding extractor: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, domain.ErrNoFaceDetected
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: embedding extractor returned %d: %s", domain.ErrUpstream, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decoding extractor response: %v", domain.ErrUpstream, err)
	}
	if len(out.Embedding) == 0 {
		return nil, domain.ErrNoFaceDetected
	}
	return out.Embedding, nil
}
