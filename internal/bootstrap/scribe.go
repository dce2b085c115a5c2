package bootstrap

import (
	"context"
	"log/slog"
	"strings"

	"github.com/eleven-am/scribe-backend/internal/analysis"
	"github.com/eleven-am/scribe-backend/internal/chunkstore"
	"github.com/eleven-am/scribe-backend/internal/clinical"
	"github.com/eleven-am/scribe-backend/internal/lease"
	"github.com/eleven-am/scribe-backend/internal/metrics"
	"github.com/eleven-am/scribe-backend/internal/record"
	"github.com/eleven-am/scribe-backend/internal/scribe"
	"github.com/eleven-am/scribe-backend/internal/speech"
	"github.com/eleven-am/scribe-backend/internal/webhook"
	"go.uber.org/fx"
)

func ProvideMetrics() *metrics.Metrics {
	return metrics.New()
}

func ProvideChunkStore(cfg *Config, logger *slog.Logger) (*chunkstore.Store, error) {
	return chunkstore.New(cfg.AudioStorageDir, logger.With("component", "chunkstore"))
}

// ProvideTranscriber selects the STT adapter named by STT_PROVIDER. The
// Google client holds a gRPC connection and is closed on shutdown.
func ProvideTranscriber(lc fx.Lifecycle, cfg *Config, logger *slog.Logger) (speech.Transcriber, error) {
	if strings.ToLower(cfg.STTProvider) == STTProviderGoogle {
		g, err := speech.NewGoogleTranscriber(context.Background(), speech.GoogleConfig{
			ProjectID:       cfg.GoogleCloudProjectID,
			CredentialsJSON: cfg.GoogleCloudCredentialsJSON,
			Location:        cfg.GoogleCloudSpeechLocation,
			Model:           cfg.GoogleCloudSpeechModel,
		}, logger.With("component", "google_stt"))
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return g.Close()
			},
		})
		return g, nil
	}

	return speech.NewWhisperClient(speech.WhisperConfig{
		BaseURL: cfg.STTURL,
		APIKey:  cfg.STTAPIKey,
		Model:   cfg.STTModel,
		Timeout: cfg.STTTimeout,
	}, logger.With("component", "whisper_stt")), nil
}

func ProvideAnalysisEngine(cfg *Config, logger *slog.Logger) analysis.Engine {
	return analysis.NewChatClient(analysis.Config{
		BaseURL: cfg.AnalysisURL,
		APIKey:  cfg.AnalysisAPIKey,
		Model:   cfg.AnalysisModel,
		Timeout: cfg.AnalysisTimeout,
	}, logger.With("component", "analysis"))
}

func ProvideExtractor() *clinical.PatternExtractor {
	return clinical.NewExtractor(clinical.DefaultVocabulary())
}

func ProvideWebhookSender(cfg *Config) webhook.Sender {
	return webhook.NewHTTPSender(cfg.CompletionWebhookURL, cfg.WebhookTimeout)
}

type RegistryParams struct {
	fx.In

	Config    *Config
	Records   *record.Store
	Chunks    *chunkstore.Store
	STT       speech.Transcriber
	Extractor *clinical.PatternExtractor
	Analysis  analysis.Engine
	Metrics   *metrics.Metrics
	Webhook   webhook.Sender
	Leases    *lease.Store
	Logger    *slog.Logger
}

func ProvideRegistry(lc fx.Lifecycle, p RegistryParams) *scribe.Registry {
	registry := scribe.NewRegistry(scribe.Dependencies{
		Records:   p.Records,
		Chunks:    p.Chunks,
		STT:       p.STT,
		Extractor: p.Extractor,
		Analysis:  p.Analysis,
		Metrics:   p.Metrics,
		Webhook:   p.Webhook,
		Lease:     p.Leases,
		Counters:  p.Leases,
	}, scribe.Options{
		DefaultLanguage:        p.Config.DefaultLanguage,
		STTTimeout:             p.Config.STTTimeout,
		AnalysisTimeout:        p.Config.AnalysisTimeout,
		PersistTimeout:         p.Config.PersistTimeout,
		WebhookTimeout:         p.Config.WebhookTimeout,
		MarkFailedOnDisconnect: p.Config.MarkFailedOnDisconnect,
	}, p.Logger)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return registry.Close(ctx)
		},
	})
	return registry
}

var ScribeModule = fx.Options(
	fx.Provide(
		ProvideMetrics,
		ProvideChunkStore,
		ProvideTranscriber,
		ProvideAnalysisEngine,
		ProvideExtractor,
		ProvideWebhookSender,
		ProvideRegistry,
	),
)
