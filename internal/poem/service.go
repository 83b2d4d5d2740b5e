package poem

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ayusman/poetrycam/internal/config"
	"gocv.io/x/gocv"
)

// Service wraps an Analyzer and a Poet with retries and offline fallbacks.
// Its methods always return a usable value; a non-nil error reports that
// the fallback was used.
type Service struct {
	analyzer Analyzer
	poet     Poet
	retry    Retry
}

// NewService creates a service. A nil analyzer or poet always uses the
// offline result.
func NewService(analyzer Analyzer, poet Poet, retry Retry) *Service {
	return &Service{analyzer: analyzer, poet: poet, retry: retry}
}

// FromConfig wires the hosted analysis service and either the poem command
// or the hosted poem service.
func FromConfig(cfg config.Poem) (*Service, error) {
	analyzer := NewVisionAnalyzer(NewChatClient(cfg.Analysis.URL, cfg.Analysis.APIKey, cfg.Analysis.Model, cfg.Timeout))

	var poet Poet
	if cfg.Command != "" {
		cp, err := NewCommandPoet(cfg.Command, cfg.Timeout)
		if err != nil {
			return nil, err
		}
		poet = cp
	} else {
		poet = NewChatPoet(NewChatClient(cfg.Generation.URL, cfg.Generation.APIKey, cfg.Generation.Model, cfg.Timeout))
	}

	if cfg.Analysis.APIKey == "" {
		slog.Warn("poem: no analysis api key, photos get the offline analysis")
	}
	if cfg.Command == "" && cfg.Generation.APIKey == "" {
		slog.Warn("poem: no poem api key, cycles get the offline poem")
	}

	return NewService(analyzer, poet, Retry{Attempts: cfg.Retries, Delay: cfg.RetryDelay}), nil
}

// Analyze describes photo, falling back to OfflineAnalysis.
func (s *Service) Analyze(ctx context.Context, photo *gocv.Mat) (Analysis, error) {
	if s.analyzer == nil {
		return OfflineAnalysis(), fmt.Errorf("%w: no analyzer", ErrServiceUnavailable)
	}

	if photo == nil || photo.Empty() {
		return OfflineAnalysis(), fmt.Errorf("%w: empty photo", ErrBadResponse)
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *photo)
	if err != nil {
		return OfflineAnalysis(), fmt.Errorf("encode photo: %w", err)
	}
	jpeg := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	start := time.Now()
	var a Analysis
	err = s.retry.Do(ctx, "analysis", func(ctx context.Context) error {
		var err error
		a, err = s.analyzer.Analyze(ctx, jpeg)
		return err
	})
	if err != nil {
		slog.Warn("poem: analysis unavailable, using offline analysis", "error", err)
		return OfflineAnalysis(), err
	}

	slog.Info("poem: photo analyzed", "items", len(a.Items), "took", time.Since(start).Round(time.Millisecond))
	return a, nil
}

// Generate writes a poem for a, falling back to OfflinePoem.
func (s *Service) Generate(ctx context.Context, a Analysis) (string, error) {
	if s.poet == nil {
		return OfflinePoem, fmt.Errorf("%w: no poet", ErrServiceUnavailable)
	}

	var text string
	err := s.retry.Do(ctx, "poem", func(ctx context.Context) error {
		var err error
		text, err = s.poet.Generate(ctx, a)
		return err
	})
	if err != nil {
		slog.Warn("poem: generation unavailable, using offline poem", "error", err)
		return OfflinePoem, err
	}
	return text, nil
}
