package controllers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"

	"faltas_go/gateway"
	"faltas_go/models"
	"faltas_go/repository"
	"faltas_go/services"
	"faltas_go/utils"

	"github.com/gofiber/fiber/v2"
)

func decodeBody(t *testing.T, app *fiber.App, path string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	defer resp.Body.Close()
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return resp.StatusCode, body
}

func TestRespondErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "validation", err: utils.ValidationErrors{"classes": "must be greater than 0"}, want: fiber.StatusBadRequest},
		{name: "unauthenticated", err: services.ErrUnauthenticated, want: fiber.StatusUnauthorized},
		{name: "absence not found", err: services.ErrAbsenceNotFound, want: fiber.StatusNotFound},
		{name: "wrapped row not found", err: fmt.Errorf("get leave: %w", gateway.ErrNotFound), want: fiber.StatusNotFound},
		{name: "substitute not found", err: repository.ErrSubstituteNotFound, want: fiber.StatusNotFound},
		{name: "no generation", err: services.ErrNoBulkResult, want: fiber.StatusNotFound},
		{name: "generation running", err: services.ErrBulkInProgress, want: fiber.StatusConflict},
		{name: "no working days", err: services.ErrNoWorkingDays, want: fiber.StatusBadRequest},
		{name: "unknown format", err: services.ErrUnknownFormat, want: fiber.StatusBadRequest},
		{name: "archive not configured", err: services.ErrArchiveNotConfigured, want: fiber.StatusServiceUnavailable},
		{name: "anything else", err: errors.New("connection reset"), want: fiber.StatusInternalServerError},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return respondError(c, tc.err) })

			status, body := decodeBody(t, app, "/")
			if status != tc.want {
				t.Fatalf("expected %d, got %d (%v)", tc.want, status, body)
			}
			if body["error"] == nil {
				t.Fatalf("expected error message in body, got %v", body)
			}
			if tc.want == fiber.StatusBadRequest && tc.name == "validation" {
				details, _ := body["details"].(map[string]interface{})
				if details["classes"] == nil {
					t.Fatalf("expected field details, got %v", body)
				}
			}
		})
	}
}

func TestBulkResponse(t *testing.T) {
	day := models.MustDate("2024-03-04")
	result := &services.BulkResult{
		LeaveID: "L1",
		Days: []services.DayOutcome{
			{Date: day, AbsenceID: "a1"},
			{Date: day, AbsenceID: "a2"},
			{Date: day, Error: "remote unavailable"},
		},
	}
	tests := []struct {
		name   string
		result *services.BulkResult
		err    error
		want   int
	}{
		{name: "all days created", result: &services.BulkResult{LeaveID: "L1", Days: result.Days[:2]}, want: fiber.StatusOK},
		{name: "some days failed", result: result, err: services.ErrPartialBulkFailure, want: fiber.StatusMultiStatus},
		{name: "generation running", err: services.ErrBulkInProgress, want: fiber.StatusConflict},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return bulkResponse(c, tc.result, tc.err) })

			status, body := decodeBody(t, app, "/")
			if status != tc.want {
				t.Fatalf("expected %d, got %d (%v)", tc.want, status, body)
			}
			if tc.want == fiber.StatusMultiStatus {
				if body["succeeded"] != float64(2) || body["failed"] != float64(1) {
					t.Fatalf("expected 2 succeeded and 1 failed, got %v", body)
				}
			}
		})
	}
}
