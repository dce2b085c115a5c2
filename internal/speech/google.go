package speech

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"cloud.google.com/go/auth/credentials"
	gspeech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const speechAPIEndpointPort = 443

type GoogleConfig struct {
	ProjectID       string
	CredentialsJSON string
	Location        string
	Model           string
}

type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// GoogleTranscriber sends each canonical chunk to Cloud Speech-to-Text v2 as a
// synchronous Recognize call.
type GoogleTranscriber struct {
	recognizer string
	model      string
	recognize  recognizeFunc
	closeFn    func() error
	logger     *slog.Logger
}

func NewGoogleTranscriber(ctx context.Context, cfg GoogleConfig, logger *slog.Logger) (*GoogleTranscriber, error) {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "global"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "long"
	}

	detect := &credentials.DetectOptions{
		Scopes: []string{"https://www.googleapis.com/auth/cloud-platform"},
	}
	if cfg.CredentialsJSON != "" {
		detect.CredentialsJSON = []byte(cfg.CredentialsJSON)
	}
	creds, err := credentials.DetectDefault(detect)
	if err != nil {
		return nil, fmt.Errorf("detect credentials: %w", err)
	}

	opts := []option.ClientOption{option.WithAuthCredentials(creds)}
	if location != "global" {
		opts = append(opts, option.WithEndpoint(fmt.Sprintf("%s-speech.googleapis.com:%d", location, speechAPIEndpointPort)))
	}

	client, err := gspeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	g := newGoogleTranscriber(cfg.ProjectID, location, model, func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	}, logger)
	g.closeFn = client.Close
	return g, nil
}

func newGoogleTranscriber(projectID, location, model string, fn recognizeFunc, logger *slog.Logger) *GoogleTranscriber {
	return &GoogleTranscriber{
		recognizer: fmt.Sprintf("projects/%s/locations/%s/recognizers/_", projectID, location),
		model:      model,
		recognize:  fn,
		logger:     logger.With("component", "google_speech"),
	}
}

func (g *GoogleTranscriber) Transcribe(ctx context.Context, audioPath, language, _ string) (*Result, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrTranscription, err)
	}

	resp, err := g.recognize(ctx, &speechpb.RecognizeRequest{
		Recognizer: g.recognizer,
		Config: &speechpb.RecognitionConfig{
			Model:         g.model,
			LanguageCodes: []string{languageCode(language)},
			DecodingConfig: &speechpb.RecognitionConfig_AutoDecodingConfig{
				AutoDecodingConfig: &speechpb.AutoDetectDecodingConfig{},
			},
			Features: &speechpb.RecognitionFeatures{EnableAutomaticPunctuation: true},
		},
		AudioSource: &speechpb.RecognizeRequest_Content{Content: audio},
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
			return nil, fmt.Errorf("%w: %s: %s", ErrTranscription, st.Code(), st.Message())
		}
		return nil, fmt.Errorf("%w: %v", ErrTranscription, err)
	}

	var (
		parts []string
		sum   float64
		n     int
	)
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		if t := strings.TrimSpace(alts[0].GetTranscript()); t != "" {
			parts = append(parts, t)
		}
		sum += float64(alts[0].GetConfidence())
		n++
	}

	res := &Result{Text: strings.Join(parts, " "), Language: language}
	if n > 0 {
		res.Confidence = clampConfidence(sum / float64(n))
	}
	return res, nil
}

func (g *GoogleTranscriber) IsAvailable(ctx context.Context) bool {
	return g.recognize != nil && ctx.Err() == nil
}

func (g *GoogleTranscriber) Close() error {
	if g.closeFn == nil {
		return nil
	}
	return g.closeFn()
}

// languageCode expands bare ISO 639-1 codes to the BCP-47 tags Cloud Speech expects.
func languageCode(lang string) string {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "", "en":
		return "en-US"
	case "es":
		return "es-ES"
	case "fr":
		return "fr-FR"
	case "de":
		return "de-DE"
	case "ja":
		return "ja-JP"
	default:
		return lang
	}
}
