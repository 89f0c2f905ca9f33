package detection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/skewerpos-backend/internal/imageprep"
	"github.com/angelmondragon/skewerpos-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

type passthroughPrep struct {
	err   error
	calls int
}

func (p *passthroughPrep) Preprocess(_ context.Context, f imageprep.File) (*imageprep.Result, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &imageprep.Result{File: f}, nil
}

type stubProvider struct {
	result *Result
	err    error
	calls  int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Detect(context.Context, imageprep.File) (*Result, error) {
	s.calls++
	return s.result, s.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func photo() imageprep.File {
	return imageprep.File{Name: "tray.jpg", ContentType: "image/jpeg", Data: []byte("jpeg-bytes")}
}

func TestHTTPProviderPostsMultipartImage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "jpeg-bytes", string(data))
		assert.Equal(t, "tray.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"counts":          map[string]int{"แดง": 4, "blue": 2},
			"annotated_image": "https://cdn.example/annotated.jpg",
		})
	}))
	defer srv.Close()

	provider, err := NewHTTPProvider(srv.URL, srv.Client())
	require.NoError(t, err)

	result, err := provider.Detect(context.Background(), photo())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"แดง": 4, "blue": 2}, result.Counts)
	assert.Equal(t, "https://cdn.example/annotated.jpg", result.AnnotatedImage)
	assert.Equal(t, []string{"blue", "แดง"}, result.Labels())
}

func TestHTTPProviderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model offline", http.StatusBadGateway)
	}))
	defer srv.Close()

	provider, err := NewHTTPProvider(srv.URL, srv.Client())
	require.NoError(t, err)
	svc, err := NewService(&passthroughPrep{}, provider, time.Second, testLogger())
	require.NoError(t, err)

	_, err = svc.Detect(context.Background(), photo())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))
	assert.Contains(t, err.Error(), "detect skewers")
	assert.ErrorContains(t, errors.Unwrap(err), "model offline")
}

func TestServiceStopsOnCompressionFailure(t *testing.T) {
	prep := &passthroughPrep{err: pkgerrors.New(pkgerrors.CodeCompression, "image still exceeds upload budget")}
	provider := &stubProvider{}
	svc, err := NewService(prep, provider, 0, testLogger())
	require.NoError(t, err)

	_, err = svc.Detect(context.Background(), photo())
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeCompression))
	assert.Equal(t, 0, provider.calls)
}

func TestServiceDropsEmptyCounts(t *testing.T) {
	provider := &stubProvider{result: &Result{Counts: map[string]int{"red": 3, "green": 0, " ": 2, "blue": -1}}}
	svc, err := NewService(&passthroughPrep{}, provider, time.Second, testLogger())
	require.NoError(t, err)

	result, err := svc.Detect(context.Background(), photo())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"red": 3}, result.Counts)
	assert.Equal(t, len("jpeg-bytes"), result.Image.Bytes)
	assert.False(t, result.Image.Reencoded)
}

func TestOpenAIProviderParsesStructuredOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])
		raw, _ := json.Marshal(body["input"])
		assert.Contains(t, string(raw), "input_image")
		assert.Contains(t, string(raw), "data:image/jpeg;base64,")
		format, _ := json.Marshal(body["text"])
		assert.Contains(t, string(format), "skewer_counts")

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
  "id": "resp_1",
  "object": "response",
  "created_at": 1,
  "model": "gpt-4o-mini",
  "status": "completed",
  "output": [{
    "type": "message",
    "id": "msg_1",
    "role": "assistant",
    "status": "completed",
    "content": [{"type": "output_text", "annotations": [], "text": "{\"items\":[{\"color\":\"Red\",\"count\":3},{\"color\":\"red\",\"count\":1},{\"color\":\"green\",\"count\":2}]}"}]
  }]
}`)
	}))
	defer srv.Close()

	provider, err := NewOpenAIProvider("sk-test", "gpt-4o-mini", option.WithBaseURL(srv.URL+"/"))
	require.NoError(t, err)

	result, err := provider.Detect(context.Background(), photo())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"red": 4, "green": 2}, result.Counts)
}

func TestCountsSchemaIsStrict(t *testing.T) {
	schema, err := countsSchema()
	require.NoError(t, err)
	assert.Equal(t, false, schema["additionalProperties"])
	assert.ElementsMatch(t, []any{"items"}, schema["required"])
}

func TestNewProviderSelectsBackend(t *testing.T) {
	p, err := NewProvider(config.DetectionConfig{Provider: "http", Endpoint: "http://detector.local"})
	require.NoError(t, err)
	assert.Equal(t, "http", p.Name())

	p, err = NewProvider(config.DetectionConfig{Provider: "OpenAI", OpenAIAPIKey: "sk"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	_, err = NewProvider(config.DetectionConfig{Provider: "fax"})
	assert.Error(t, err)
}
