package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"go-file-engine/internal/model"
	"go-file-engine/pkg/apierror"
)

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// TokenService signs and checks HS256 access tokens. Users live outside the
// engine; operators mint tokens with the CLI.
type TokenService struct {
	jwtSecret []byte
	accessTTL time.Duration
}

func NewTokenService(jwtSecret string, accessTTL time.Duration) *TokenService {
	return &TokenService{jwtSecret: []byte(jwtSecret), accessTTL: accessTTL}
}

func (s *TokenService) IssueToken(subject string, role string) (string, time.Time, error) {
	subject = strings.TrimSpace(subject)
	role = strings.ToLower(strings.TrimSpace(role))
	if subject == "" {
		return "", time.Time{}, fmt.Errorf("%w: token subject is required", model.ErrInvalidInput)
	}
	switch role {
	case RoleViewer, RoleEditor, RoleAdmin:
	default:
		return "", time.Time{}, fmt.Errorf("%w: role %q (allowed: viewer|editor|admin)", model.ErrInvalidInput, role)
	}

	now := time.Now().UTC()
	expires := now.Add(s.accessTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":      subject,
		"username": subject,
		"role":     role,
		"typ":      "access",
		"jti":      uuid.NewString(),
		"iat":      now.Unix(),
		"exp":      expires.Unix(),
	})

	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

func (s *TokenService) ValidateToken(tokenString string, expectedType string) (*model.AuthClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apierror.Unauthorized("invalid token signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, apierror.Unauthorized("invalid token")
	}

	claimsMap, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierror.Unauthorized("invalid token claims")
	}

	typ, _ := claimsMap["typ"].(string)
	if expectedType != "" && typ != expectedType {
		return nil, apierror.Unauthorized("invalid token type")
	}

	claims := &model.AuthClaims{Type: typ}
	claims.UserID, _ = claimsMap["sub"].(string)
	claims.Username, _ = claimsMap["username"].(string)
	claims.Role, _ = claimsMap["role"].(string)
	claims.TokenID, _ = claimsMap["jti"].(string)

	if claims.UserID == "" {
		return nil, apierror.Unauthorized("invalid token subject")
	}

	return claims, nil
}
