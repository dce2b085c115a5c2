package shared

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAPIError_WithDetails(t *testing.T) {
	err := NewAPIError("invalid_id", "id must be positive").WithDetails(map[string]int64{"id": -1})
	d, ok := err.Details.(map[string]int64)
	if !ok {
		t.Fatalf("expected details map, got %T", err.Details)
	}
	if d["id"] != -1 {
		t.Errorf("expected id -1, got %d", d["id"])
	}
}

func TestHTTPHelpers(t *testing.T) {
	tests := []struct {
		name   string
		err    *echo.HTTPError
		status int
		code   string
	}{
		{"bad request", BadRequest("bad", "bad request"), http.StatusBadRequest, "bad"},
		{"not found", NotFound("missing", "not found"), http.StatusNotFound, "missing"},
		{"conflict", Conflict("dup", "duplicate"), http.StatusConflict, "dup"},
		{"internal", InternalError("boom", "internal error"), http.StatusInternalServerError, "boom"},
		{"unavailable", ServiceUnavailable("busy", "try later"), http.StatusServiceUnavailable, "busy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, tt.err.Code)
			}
			apiErr, ok := tt.err.Message.(*APIError)
			if !ok {
				t.Fatal("expected message to be *APIError")
			}
			if apiErr.Code != tt.code {
				t.Errorf("expected code %q, got %q", tt.code, apiErr.Code)
			}
		})
	}
}
