package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/eleven-am/scribe-backend/internal/shared"
)

// promptTailChars bounds how much preceding transcript is sent as decoder context.
const promptTailChars = 800

type WhisperConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Backoff shared.BackoffConfig
}

// WhisperClient talks to an OpenAI-compatible /audio/transcriptions endpoint.
type WhisperClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	backoff    shared.BackoffConfig
	logger     *slog.Logger
}

func NewWhisperClient(cfg WhisperConfig, logger *slog.Logger) *WhisperClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}

	return &WhisperClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      model,
		backoff:    shared.NormalizeBackoff(cfg.Backoff),
		logger:     logger.With("component", "whisper"),
	}
}

type whisperSegment struct {
	NoSpeechProb *float64 `json:"no_speech_prob"`
}

type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Segments []whisperSegment `json:"segments"`
}

// retryableError marks failures worth another attempt.
type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

func (c *WhisperClient) Transcribe(ctx context.Context, audioPath, language, prompt string) (*Result, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read audio: %v", ErrTranscription, err)
	}

	var lastErr error
	for attempt := 0; attempt < c.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrTranscription, ctx.Err())
			case <-time.After(c.backoff.Next(attempt - 1)):
			}
		}

		res, err := c.do(ctx, filepath.Base(audioPath), audio, language, prompt)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var retry retryableError
		if !errors.As(err, &retry) {
			break
		}
		c.logger.Warn("transcription attempt failed", "attempt", attempt+1, "error", err)
	}

	return nil, fmt.Errorf("%w: %v", ErrTranscription, lastErr)
}

func (c *WhisperClient) do(ctx context.Context, filename string, audio []byte, language, prompt string) (*Result, error) {
	body, contentType, err := c.buildForm(filename, audio, language, prompt)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/transcriptions", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, retryableError{fmt.Errorf("stt request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("stt returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, retryableError{err}
		}
		return nil, err
	}

	var out whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &Result{
		Text:       strings.TrimSpace(out.Text),
		Confidence: segmentConfidence(out.Segments),
		Language:   out.Language,
	}, nil
}

func (c *WhisperClient) buildForm(filename string, audio []byte, language, prompt string) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write form file: %w", err)
	}

	fields := map[string]string{
		"model":           c.model,
		"response_format": "verbose_json",
		"temperature":     "0",
	}
	if language != "" {
		fields["language"] = language
	}
	if p := promptTail(prompt); p != "" {
		fields["prompt"] = p
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// segmentConfidence averages 1 - no_speech_prob over segments. A segment
// without a probability counts as 0.5; no segments at all yields 0.
func segmentConfidence(segments []whisperSegment) float64 {
	if len(segments) == 0 {
		return 0
	}
	var sum float64
	for _, s := range segments {
		p := 0.5
		if s.NoSpeechProb != nil {
			p = *s.NoSpeechProb
		}
		sum += 1 - p
	}
	return clampConfidence(sum / float64(len(segments)))
}

func promptTail(prompt string) string {
	prompt = strings.TrimSpace(prompt)
	if len(prompt) <= promptTailChars {
		return prompt
	}
	start := len(prompt) - promptTailChars
	for start < len(prompt) && !utf8.RuneStart(prompt[start]) {
		start++
	}
	tail := prompt[start:]
	if i := strings.IndexByte(tail, ' '); i >= 0 {
		tail = tail[i+1:]
	}
	return tail
}

func (c *WhisperClient) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode < http.StatusInternalServerError
}
