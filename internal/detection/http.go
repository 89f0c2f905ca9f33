package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/angelmondragon/skewerpos-backend/internal/imageprep"
)

const maxResponseBytes = 10 << 20

// HTTPProvider posts the photo as multipart field "image" to a detection
// endpoint answering {"counts": {"<label>": n}, "annotated_image": "..."}.
type HTTPProvider struct {
	endpoint string
	client   *http.Client
}

// NewHTTPProvider returns a provider for endpoint. A nil client uses http.DefaultClient.
func NewHTTPProvider(endpoint string, client *http.Client) (*HTTPProvider, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, errors.New("detection endpoint required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{endpoint: endpoint, client: client}, nil
}

func (p *HTTPProvider) Name() string { return "http" }

type httpDetectResponse struct {
	Counts         map[string]int `json:"counts"`
	AnnotatedImage string         `json:"annotated_image"`
}

func (p *HTTPProvider) Detect(ctx context.Context, image imageprep.File) (*Result, error) {
	body, contentType, err := multipartImage(image)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("build detection request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("detection request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read detection response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("detection service returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var decoded httpDetectResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode detection response: %w", err)
	}
	if decoded.Counts == nil {
		decoded.Counts = map[string]int{}
	}
	return &Result{Counts: decoded.Counts, AnnotatedImage: decoded.AnnotatedImage}, nil
}

func multipartImage(image imageprep.File) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	name := image.Name
	if name == "" {
		name = "photo.jpg"
	}
	ct := image.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, name))
	header.Set("Content-Type", ct)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(image.Data); err != nil {
		return nil, "", fmt.Errorf("write multipart image: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart body: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}
