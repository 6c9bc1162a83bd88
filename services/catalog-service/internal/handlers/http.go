package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mfrederiksen/tutorbase/services/catalog-service/internal/storage"
)

type Handler struct {
	repo *storage.Repository
}

func New(repo *storage.Repository) *Handler {
	return &Handler{repo: repo}
}

func tutorIDFromRequest(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-User-Id")); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("tutor_id"))
}

func (h *Handler) UpsertTutor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string   `json:"name"`
		Email      string   `json:"email"`
		Subjects   []string `json:"subjects"`
		HourlyRate float64  `json:"hourly_rate"`
		Bio        string   `json:"bio"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" {
		http.Error(w, "name and email are required", http.StatusBadRequest)
		return
	}
	if req.HourlyRate < 0 {
		http.Error(w, "invalid hourly_rate", http.StatusBadRequest)
		return
	}
	subjects := make([]string, 0, len(req.Subjects))
	for _, s := range req.Subjects {
		if s = strings.TrimSpace(s); s != "" {
			subjects = append(subjects, s)
		}
	}

	id, err := h.repo.UpsertTutor(r.Context(), storage.Tutor{
		ID:         tutorIDFromRequest(r),
		Name:       req.Name,
		Email:      req.Email,
		Subjects:   subjects,
		HourlyRate: strconv.FormatFloat(req.HourlyRate, 'f', 2, 64),
		Bio:        strings.TrimSpace(req.Bio),
	})
	if err != nil {
		http.Error(w, "failed to save tutor", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"tutor_id": id})
}

func (h *Handler) GetTutor(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("tutor_id"))
	if id == "" {
		http.Error(w, "tutor_id required", http.StatusBadRequest)
		return
	}
	t, err := h.repo.GetTutor(r.Context(), id)
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "tutor not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load tutor", http.StatusInternalServerError)
		return
	}
	writeTutor(w, t)
}

func (h *Handler) ListTutors(w http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(r.URL.Query().Get("subject"))
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	tutors, err := h.repo.ListTutors(r.Context(), subject, limit)
	if err != nil {
		http.Error(w, "failed to list tutors", http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, 0, len(tutors))
	for _, t := range tutors {
		items = append(items, tutorPayload(t))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

func (h *Handler) PublishSlot(w http.ResponseWriter, r *http.Request) {
	tutorID := tutorIDFromRequest(r)
	if tutorID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req struct {
		Date        string `json:"date"`
		StartMinute int    `json:"start_minute"`
		EndMinute   int    `json:"end_minute"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if _, err := time.Parse("2006-01-02", strings.TrimSpace(req.Date)); err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}
	if req.StartMinute < 0 || req.EndMinute > 24*60 || req.StartMinute >= req.EndMinute {
		http.Error(w, "invalid minute range", http.StatusBadRequest)
		return
	}
	if req.StartMinute%15 != 0 || req.EndMinute%15 != 0 {
		http.Error(w, "slot bounds must be on the 15-minute grid", http.StatusBadRequest)
		return
	}

	id, err := h.repo.PublishSlot(r.Context(), storage.SlotTemplate{
		TutorID:     tutorID,
		Date:        strings.TrimSpace(req.Date),
		StartMinute: req.StartMinute,
		EndMinute:   req.EndMinute,
	})
	if err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "tutor not found", http.StatusNotFound)
			return
		}
		if storage.IsConflict(err) {
			http.Error(w, "slot overlaps an existing template", http.StatusConflict)
			return
		}
		http.Error(w, "failed to publish slot", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"slot_id": id})
}

func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	tutorID := strings.TrimSpace(r.URL.Query().Get("tutor_id"))
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if tutorID == "" || from == "" {
		http.Error(w, "tutor_id and from are required", http.StatusBadRequest)
		return
	}
	if to == "" {
		to = from
	}
	for _, d := range []string{from, to} {
		if _, err := time.Parse("2006-01-02", d); err != nil {
			http.Error(w, "invalid date", http.StatusBadRequest)
			return
		}
	}

	slots, err := h.repo.ListSlots(r.Context(), tutorID, from, to)
	if err != nil {
		http.Error(w, "failed to list slots", http.StatusInternalServerError)
		return
	}

	items := make([]map[string]any, 0, len(slots))
	for _, s := range slots {
		items = append(items, map[string]any{
			"slot_id":      s.ID,
			"tutor_id":     s.TutorID,
			"date":         s.Date,
			"start_minute": s.StartMinute,
			"end_minute":   s.EndMinute,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(items)
}

func (h *Handler) DeleteSlot(w http.ResponseWriter, r *http.Request) {
	tutorID := tutorIDFromRequest(r)
	if tutorID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req struct {
		SlotID string `json:"slot_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.SlotID) == "" {
		http.Error(w, "slot_id required", http.StatusBadRequest)
		return
	}

	if err := h.repo.DeleteSlot(r.Context(), tutorID, strings.TrimSpace(req.SlotID)); err != nil {
		if storage.IsNotFound(err) {
			http.Error(w, "slot not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete slot", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeTutor(w http.ResponseWriter, t storage.Tutor) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(tutorPayload(t))
}

func tutorPayload(t storage.Tutor) map[string]any {
	return map[string]any{
		"tutor_id":    t.ID,
		"name":        t.Name,
		"email":       t.Email,
		"subjects":    t.Subjects,
		"hourly_rate": t.HourlyRate,
		"bio":         t.Bio,
		"created_at":  t.CreatedAt.UTC().Format(time.RFC3339),
	}
}
