package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/babylog/internal/baby"
	"github.com/hitoshi/babylog/internal/model"
)

func TestRegisterBaby_Success(t *testing.T) {
	var gotInput baby.RegisterInput
	svc := &mockBabyService{
		registerFn: func(ctx context.Context, userID string, in baby.RegisterInput) (*model.Baby, error) {
			gotInput = in
			return &model.Baby{
				ID:                     "baby-1",
				UserID:                 userID,
				Name:                   in.Name,
				BirthDate:              in.BirthDate,
				FeedingIntervalMinutes: 150,
				CreatedAt:              testTime,
			}, nil
		},
	}
	h := NewBabyHandler(svc)

	body := `{"name":"はな","birth_date":"2025-12-24","feeding_interval_minutes":150}`
	req := httptest.NewRequest(http.MethodPost, "/api/babies", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.Register(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	if gotInput.BirthDate == nil || !gotInput.BirthDate.Equal(time.Date(2025, 12, 24, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected birth date: %v", gotInput.BirthDate)
	}
	if gotInput.FeedingIntervalMinutes != 150 {
		t.Errorf("expected interval 150, got %d", gotInput.FeedingIntervalMinutes)
	}

	var resp babyResponse
	decodeBody(t, w, &resp)
	if resp.BirthDate == nil || *resp.BirthDate != "2025-12-24" {
		t.Errorf("unexpected birth_date: %v", resp.BirthDate)
	}
}

func TestRegisterBaby_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing name", `{"birth_date":"2025-12-24"}`},
		{"bad birth date", `{"name":"はな","birth_date":"12/24/2025"}`},
		{"name too long", `{"name":"` + strings.Repeat("a", 51) + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewBabyHandler(&mockBabyService{})

			req := httptest.NewRequest(http.MethodPost, "/api/babies", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			req = withUserID(req, "user-123")
			w := httptest.NewRecorder()

			h.Register(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}
		})
	}
}

func TestRegisterBaby_InvalidInterval(t *testing.T) {
	svc := &mockBabyService{
		registerFn: func(ctx context.Context, userID string, in baby.RegisterInput) (*model.Baby, error) {
			return nil, model.NewInvalidFeedingIntervalError(in.FeedingIntervalMinutes)
		},
	}
	h := NewBabyHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/babies", strings.NewReader(`{"name":"はな","feeding_interval_minutes":10}`))
	req.Header.Set("Content-Type", "application/json")
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.Register(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
	resp := parseAPIErrorResponse(t, w)
	if resp["code"] != model.ErrCodeInvalidFeedingInterval {
		t.Errorf("expected code INVALID_FEEDING_INTERVAL, got %s", resp["code"])
	}
}

func TestGetBaby_NotFound(t *testing.T) {
	h := NewBabyHandler(&mockBabyService{})

	req := httptest.NewRequest(http.MethodGet, "/api/babies/baby-x", nil)
	req = withUserID(req, "user-123")
	req = withChiURLParam(req, "id", "baby-x")
	w := httptest.NewRecorder()

	h.Get(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", w.Code)
	}
}

func TestListBabies(t *testing.T) {
	svc := &mockBabyService{
		listFn: func(ctx context.Context, userID string) ([]*model.Baby, error) {
			return []*model.Baby{
				{ID: "baby-1", Name: "はな", FeedingIntervalMinutes: 180},
				{ID: "baby-2", Name: "そら", FeedingIntervalMinutes: 120},
			}, nil
		},
	}
	h := NewBabyHandler(svc)

	req := httptest.NewRequest(http.MethodGet, "/api/babies", nil)
	req = withUserID(req, "user-123")
	w := httptest.NewRecorder()

	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	var resp []babyResponse
	decodeBody(t, w, &resp)
	if len(resp) != 2 || resp[1].Name != "そら" || resp[0].BirthDate != nil {
		t.Errorf("unexpected response: %+v", resp)
	}
}
