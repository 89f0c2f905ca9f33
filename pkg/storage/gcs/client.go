package gcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/angelmondragon/skewerpos-backend/pkg/config"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

const (
	storageAPIBase = "https://storage.googleapis.com/storage/v1"
	uploadAPIBase  = "https://storage.googleapis.com/upload/storage/v1"
	readWriteScope = "https://www.googleapis.com/auth/devstorage.read_write"
	publicBase     = "https://storage.googleapis.com"

	requestTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second
)

var (
	// ErrObjectNotFound is returned when the bucket has no object under the requested name.
	ErrObjectNotFound = errors.New("gcs object not found")

	errNotInitialized = errors.New("gcs client not initialized")
)

// Client talks to the GCS JSON API for the slip bucket. Requests are signed
// by an oauth2 transport, so every call carries a fresh bearer token.
type Client struct {
	httpClient    *http.Client
	bucket        string
	publicBaseURL string
}

func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}

	ts, err := tokenSource(ctx, gcp)
	if err != nil {
		return nil, err
	}
	httpClient := oauth2.NewClient(ctx, ts)
	httpClient.Timeout = requestTimeout

	client := &Client{
		httpClient:    httpClient,
		bucket:        cfg.BucketName,
		publicBaseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
	}
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "bucket", cfg.BucketName), "gcs client initialized")
	}
	return client, nil
}

// tokenSource prefers inline credentials, then a key file, then the ambient
// default chain (metadata server on GCP).
func tokenSource(ctx context.Context, gcp config.GCPConfig) (oauth2.TokenSource, error) {
	raw := []byte(gcp.CredentialsJSON)
	if len(raw) == 0 && gcp.ApplicationCredentials != "" {
		data, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		ts, err := google.DefaultTokenSource(ctx, readWriteScope)
		if err != nil {
			return nil, fmt.Errorf("default gcp credentials: %w", err)
		}
		return ts, nil
	}

	jwtCfg, err := google.JWTConfigFromJSON(raw, readWriteScope)
	if err != nil {
		return nil, fmt.Errorf("parsing service account credentials: %w", err)
	}
	return jwtCfg.TokenSource(ctx), nil
}

func (c *Client) Close() error {
	return nil
}

// Ping lists at most one object, which needs the same grant slip uploads use.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.httpClient == nil {
		return errNotInitialized
	}
	if c.bucket == "" {
		return errors.New("gcs bucket not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	u := fmt.Sprintf("%s/b/%s/o?maxResults=1", storageAPIBase, url.PathEscape(c.bucket))
	resp, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return statusError("gcs object check", resp)
	}
	return nil
}

// UploadObject stores data under object using a single media upload request.
func (c *Client) UploadObject(ctx context.Context, bucket, object, contentType string, data []byte) error {
	if c == nil || c.httpClient == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(object) == "" {
		return errors.New("object name is required")
	}
	if strings.TrimSpace(contentType) == "" {
		return errors.New("content type is required")
	}

	q := url.Values{}
	q.Set("uploadType", "media")
	q.Set("name", object)
	u := fmt.Sprintf("%s/b/%s/o?%s", uploadAPIBase, url.PathEscape(c.bucketOrDefault(bucket)), q.Encode())

	resp, err := c.do(ctx, http.MethodPost, u, data, contentType)
	if err != nil {
		return fmt.Errorf("gcs upload %s: %w", object, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusError("gcs upload", resp)
	}
	return nil
}

// DeleteObject removes object from bucket. Missing objects report ErrObjectNotFound.
func (c *Client) DeleteObject(ctx context.Context, bucket, object string) error {
	if c == nil || c.httpClient == nil {
		return errNotInitialized
	}
	if strings.TrimSpace(object) == "" {
		return errors.New("object name is required")
	}

	u := fmt.Sprintf("%s/b/%s/o/%s", storageAPIBase, url.PathEscape(c.bucketOrDefault(bucket)), url.PathEscape(object))
	resp, err := c.do(ctx, http.MethodDelete, u, nil, "")
	if err != nil {
		return fmt.Errorf("gcs delete %s: %w", object, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return ErrObjectNotFound
	default:
		return statusError("gcs delete", resp)
	}
}

// ObjectURL returns the public URL an uploaded object is served from.
func (c *Client) ObjectURL(bucket, object string) string {
	if c == nil {
		return ""
	}
	base := c.publicBaseURL
	if base == "" {
		base = publicBase
	}
	return fmt.Sprintf("%s/%s/%s", base, c.bucketOrDefault(bucket), strings.TrimLeft(object, "/"))
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, contentType string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.httpClient.Do(req)
}

func (c *Client) bucketOrDefault(bucket string) string {
	if strings.TrimSpace(bucket) != "" {
		return bucket
	}
	return c.bucket
}

func statusError(op string, resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(b)); msg != "" {
		return fmt.Errorf("%s failed: %s: %s", op, resp.Status, msg)
	}
	return fmt.Errorf("%s failed: %s", op, resp.Status)
}
