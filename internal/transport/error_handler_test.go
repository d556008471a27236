package transport

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/campaign-dispatch/internal/domain"
	"go.uber.org/zap"
)

func TestErrorHandlerMapsKinds(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{name: "validation", err: fmt.Errorf("%w: dailyLimit must be between 1 and 500 (got 0)", domain.ErrValidation), wantCode: 400, wantBody: "dailyLimit must be between 1 and 500"},
		{name: "campaign not found", err: domain.ErrCampaignNotFound, wantCode: 404, wantBody: "campaign not found"},
		{name: "precondition", err: domain.ErrNothingToPause, wantCode: 409, wantBody: "no scheduled emails to pause"},
		{name: "conflict", err: fmt.Errorf("%w: busy", domain.ErrConflict), wantCode: 409, wantBody: "busy"},
		{name: "external dependency", err: fmt.Errorf("%w: runner down", domain.ErrExternalDependency), wantCode: 502, wantBody: "runner down"},
		{name: "persistence", err: domain.PersistenceFailure("list pending emails"), wantCode: 500, wantBody: internalErrorMessage},
		{name: "unclassified", err: errors.New("pq: password authentication failed"), wantCode: 500, wantBody: internalErrorMessage},
		{name: "fiber error", err: fiber.NewError(fiber.StatusBadRequest, "invalid request body"), wantCode: 400, wantBody: "invalid request body"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(zap.NewNop())})
			app.Get("/", func(*fiber.Ctx) error { return tc.err })

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				t.Fatalf("app.Test() error = %v", err)
			}
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()

			if resp.StatusCode != tc.wantCode {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.wantCode)
			}
			if !strings.Contains(string(body), tc.wantBody) {
				t.Fatalf("body = %s, want it to contain %q", body, tc.wantBody)
			}
			if tc.wantCode == 500 && strings.Contains(string(body), "pq:") {
				t.Fatalf("body leaks storage detail: %s", body)
			}
		})
	}
}
