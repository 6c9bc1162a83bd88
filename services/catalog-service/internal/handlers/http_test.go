package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPublishSlot_Validation(t *testing.T) {
	h := New(nil) // validation paths return before the repo is touched

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"bad date", `{"date":"2025-13-40","start_minute":600,"end_minute":660}`, http.StatusBadRequest},
		{"inverted range", `{"date":"2025-03-10","start_minute":660,"end_minute":600}`, http.StatusBadRequest},
		{"past midnight", `{"date":"2025-03-10","start_minute":1380,"end_minute":1500}`, http.StatusBadRequest},
		{"off grid", `{"date":"2025-03-10","start_minute":605,"end_minute":660}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/slots", strings.NewReader(tt.body))
			req.Header.Set("X-User-Id", "tut-1")
			rec := httptest.NewRecorder()
			h.PublishSlot(rec, req)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestPublishSlot_RequiresIdentity(t *testing.T) {
	h := New(nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/slots", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.PublishSlot(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
