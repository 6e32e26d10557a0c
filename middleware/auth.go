package middleware

import (
	"errors"
	"faltas_go/config"
	"faltas_go/models"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

// Claims are issued by the external identity provider. The subject is the
// opaque user id.
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Identity converts the claims into the subject recorded on new rows.
func (c *Claims) Identity() *models.Identity {
	return &models.Identity{ID: c.Subject, Email: c.Email, DisplayName: c.Name}
}

var ErrInvalidToken = errors.New("invalid token")

// ParseToken validates an HS256 token and returns its claims.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// JWTMiddleware validates JWT tokens
func JWTMiddleware() fiber.Handler {
	return JWTMiddlewareWithSecret(config.AppConfig.JWTSecret)
}

// JWTMiddlewareWithSecret validates JWT tokens signed with secret
func JWTMiddlewareWithSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Get token from Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		// Extract token from "Bearer <token>"
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		claims, err := ParseToken(tokenString, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		// Store identity in context
		c.Locals("identity", claims.Identity())

		return c.Next()
	}
}

// GetIdentity returns the authenticated subject, or nil when the request is anonymous
func GetIdentity(c *fiber.Ctx) *models.Identity {
	identity, _ := c.Locals("identity").(*models.Identity)
	return identity
}
