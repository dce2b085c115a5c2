package record

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/eleven-am/scribe-backend/internal/clinical"
	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *Store, *echo.Echo) {
	t.Helper()
	store := setupTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(store, clinical.NewExtractor(clinical.DefaultVocabulary()), logger)
	e := echo.New()
	h.RegisterRoutes(e.Group("/v1/transcriptions"))
	return h, store, e
}

func TestHandler_Create(t *testing.T) {
	_, store, e := newTestHandler(t)

	p := &Patient{FirstName: "Grace", LastName: "Hopper"}
	if err := store.CreatePatient(context.Background(), p); err != nil {
		t.Fatalf("create patient: %v", err)
	}

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"minimal", `{}`, http.StatusCreated},
		{"with patient", `{"patient_id":` + strconv.FormatInt(p.ID, 10) + `,"language":"de"}`, http.StatusCreated},
		{"unknown patient", `{"patient_id":9999}`, http.StatusNotFound},
		{"negative doctor", `{"doctor_id":-4}`, http.StatusBadRequest},
		{"malformed", `{`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/transcriptions", strings.NewReader(tt.body))
			req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if rec.Code != http.StatusCreated {
				return
			}
			var tr Transcription
			if err := json.Unmarshal(rec.Body.Bytes(), &tr); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if tr.ID == 0 {
				t.Error("expected id to be assigned")
			}
			if tr.Status != StatusPending {
				t.Errorf("expected pending, got %s", tr.Status)
			}
		})
	}
}

func TestHandler_Get(t *testing.T) {
	_, store, e := newTestHandler(t)
	tr := createTranscription(t, store, StatusPending)

	tests := []struct {
		name       string
		path       string
		wantStatus int
	}{
		{"found", "/v1/transcriptions/" + strconv.FormatInt(tr.ID, 10), http.StatusOK},
		{"missing", "/v1/transcriptions/424242", http.StatusNotFound},
		{"bad id", "/v1/transcriptions/abc", http.StatusBadRequest},
		{"zero id", "/v1/transcriptions/0", http.StatusBadRequest},
		{"no analysis yet", "/v1/transcriptions/" + strconv.FormatInt(tr.ID, 10) + "/analysis", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestHandler_GetAnalysis(t *testing.T) {
	_, store, e := newTestHandler(t)
	ctx := context.Background()

	tr := createTranscription(t, store, StatusInProgress)
	if err := store.SaveProgress(ctx, tr.ID, "fever and headache, gave ibuprofen", nil); err != nil {
		t.Fatalf("save progress: %v", err)
	}
	id := tr.ID
	if err := store.CreateAnalysis(ctx, &NoteAnalysis{
		TranscriptionID: &id,
		Summary:         "Febrile with headache.",
		UrgencyLevel:    2,
		AnalysisStatus:  AnalysisCompleted,
	}); err != nil {
		t.Fatalf("create analysis: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/transcriptions/"+strconv.FormatInt(id, 10)+"/analysis", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var got struct {
		Summary       string         `json:"summary"`
		EntitySummary map[string]int `json:"entity_summary"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Summary != "Febrile with headache." {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.EntitySummary["symptoms"] != 2 || got.EntitySummary["medications"] != 1 {
		t.Errorf("entity_summary = %v", got.EntitySummary)
	}
	if _, ok := got.EntitySummary["procedures"]; ok {
		t.Errorf("empty category reported: %v", got.EntitySummary)
	}
}

func TestParseID(t *testing.T) {
	if id, err := ParseID("17"); err != nil || id != 17 {
		t.Errorf("expected 17, got %d (%v)", id, err)
	}
	for _, raw := range []string{"", "-3", "0", "x1"} {
		if _, err := ParseID(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}
