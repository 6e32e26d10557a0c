package middleware

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"faltas_go/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, secret string, claims Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func validClaims() Claims {
	return Claims{
		Email: "ana@escola.org",
		Name:  "Ana Souza",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func newTestApp() *fiber.App {
	app := fiber.New()
	app.Use(JWTMiddlewareWithSecret(testSecret))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.JSON(GetIdentity(c))
	})
	return app
}

func TestJWTMiddleware(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	noSubject := validClaims()
	noSubject.Subject = ""

	tests := []struct {
		name       string
		header     string
		expStatus  int
	}{
		{name: "valid", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, validClaims()), expStatus: fiber.StatusOK},
		{name: "missing header", header: "", expStatus: fiber.StatusUnauthorized},
		{name: "no bearer prefix", header: signToken(t, jwt.SigningMethodHS256, testSecret, validClaims()), expStatus: fiber.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, "other", validClaims()), expStatus: fiber.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, expired), expStatus: fiber.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, noSubject), expStatus: fiber.StatusUnauthorized},
	}

	app := newTestApp()
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tc.expStatus {
				t.Fatalf("expected status %d, got %d", tc.expStatus, resp.StatusCode)
			}
		})
	}
}

func TestJWTMiddlewareSetsIdentity(t *testing.T) {
	app := newTestApp()
	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, testSecret, validClaims()))

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var identity models.Identity
	if err := json.NewDecoder(resp.Body).Decode(&identity); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if identity.ID != "user-1" || identity.Email != "ana@escola.org" || identity.DisplayName != "Ana Souza" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}
