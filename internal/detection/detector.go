package detection

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/angelmondragon/skewerpos-backend/internal/imageprep"
	"github.com/angelmondragon/skewerpos-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/skewerpos-backend/pkg/errors"
	"github.com/angelmondragon/skewerpos-backend/pkg/logger"
)

// Provider is a black-box classifier counting skewers per color label.
type Provider interface {
	Name() string
	Detect(ctx context.Context, image imageprep.File) (*Result, error)
}

// Result holds the counts returned by a provider. Labels are provider
// vocabulary and are normalized later when merged into a cart.
type Result struct {
	Counts         map[string]int `json:"counts"`
	AnnotatedImage string         `json:"annotated_image,omitempty"`
	Image          ImageInfo      `json:"image"`
}

// ImageInfo describes the upload actually sent to the provider.
type ImageInfo struct {
	Bytes      int  `json:"bytes"`
	Width      int  `json:"width,omitempty"`
	Height     int  `json:"height,omitempty"`
	Quality    int  `json:"quality,omitempty"`
	Reencoded  bool `json:"reencoded"`
	Iterations int  `json:"iterations"`
}

// Labels returns the detected labels in stable order.
func (r *Result) Labels() []string {
	out := make([]string, 0, len(r.Counts))
	for label := range r.Counts {
		out = append(out, label)
	}
	sort.Strings(out)
	return out
}

type preprocessor interface {
	Preprocess(ctx context.Context, f imageprep.File) (*imageprep.Result, error)
}

// Service prepares a photo under the upload budget and forwards it to the
// configured provider. Compression failures surface before any network call.
type Service struct {
	prep     preprocessor
	provider Provider
	timeout  time.Duration
	logg     *logger.Logger
}

// NewService wires a detection service. timeout <= 0 leaves the deadline to the caller.
func NewService(prep preprocessor, provider Provider, timeout time.Duration, logg *logger.Logger) (*Service, error) {
	if prep == nil {
		return nil, fmt.Errorf("image preprocessor required")
	}
	if provider == nil {
		return nil, fmt.Errorf("detection provider required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{prep: prep, provider: provider, timeout: timeout, logg: logg}, nil
}

// NewProvider builds the provider selected in cfg.
func NewProvider(cfg config.DetectionConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case config.DetectionProviderHTTP:
		return NewHTTPProvider(cfg.Endpoint, nil)
	case config.DetectionProviderOpenAI:
		return NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel)
	default:
		return nil, fmt.Errorf("unsupported detection provider %q", cfg.Provider)
	}
}

// Detect runs the full upload path for one photo.
func (s *Service) Detect(ctx context.Context, photo imageprep.File) (*Result, error) {
	prepared, err := s.prep.Preprocess(ctx, photo)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"provider":    s.provider.Name(),
		"image_bytes": prepared.File.Size(),
		"reencoded":   prepared.Reencoded,
	})
	s.logg.Debug(s.logg.WithField(ctx, "iterations", prepared.Iterations), "detection.image_prepared")

	result, err := s.provider.Detect(ctx, prepared.File)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, err
		}
		s.logg.Error(ctx, "detection.provider_failed", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "detect skewers")
	}

	counts := make(map[string]int, len(result.Counts))
	for label, n := range result.Counts {
		label = strings.TrimSpace(label)
		if label == "" || n <= 0 {
			continue
		}
		counts[label] += n
	}
	result.Counts = counts
	result.Image = ImageInfo{
		Bytes:      prepared.File.Size(),
		Width:      prepared.Width,
		Height:     prepared.Height,
		Quality:    prepared.Quality,
		Reencoded:  prepared.Reencoded,
		Iterations: prepared.Iterations,
	}

	s.logg.Info(s.logg.WithField(ctx, "colors", len(counts)), "detection.completed")
	return result, nil
}
