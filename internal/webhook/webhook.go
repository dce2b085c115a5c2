package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type CompletionPayload struct {
	TranscriptionID int64          `json:"transcription_id"`
	PatientID       *int64         `json:"patient_id,omitempty"`
	DoctorID        *int64         `json:"doctor_id,omitempty"`
	Text            string         `json:"transcription_text"`
	Confidence      *float64       `json:"confidence_score,omitempty"`
	Summary         string         `json:"summary,omitempty"`
	Keywords        []string       `json:"keywords,omitempty"`
	Concerns        []string       `json:"concerns,omitempty"`
	UrgencyLevel    int            `json:"urgency_level,omitempty"`
	EntitySummary   map[string]int `json:"entity_summary,omitempty"`
	CompletedAt     time.Time      `json:"completed_at"`
}

type Sender interface {
	SendCompletion(ctx context.Context, payload CompletionPayload) error
}

type HTTPSender struct {
	webhookURL string
	client     *http.Client
}

func NewHTTPSender(webhookURL string, timeout time.Duration) *HTTPSender {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: timeout},
	}
}

// SendCompletion posts the payload as JSON. An empty URL disables delivery.
func (s *HTTPSender) SendCompletion(ctx context.Context, payload CompletionPayload) error {
	if s.webhookURL == "" {
		return nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Scribe-Event", "transcription.completed")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if !isHTTPSuccessStatus(resp.StatusCode) {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func isHTTPSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
