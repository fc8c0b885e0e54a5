package main

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nickyhof/CommitCatalog/catalog"
	"github.com/nickyhof/CommitCatalog/core"
)

// AuthConfig configures bearer token authentication.
type AuthConfig struct {
	// JWTSecret is the shared secret for HS256/384/512 validation.
	// Authentication is disabled when it is empty.
	JWTSecret string

	// Issuer is the expected "iss" claim, if set.
	Issuer string

	// Audience is the expected "aud" claim, if set.
	Audience string

	// NameClaim is the JWT claim for the user's name (default: "name").
	NameClaim string

	// EmailClaim is the JWT claim for the user's email (default: "email").
	EmailClaim string
}

// Enabled reports whether requests must carry a valid token.
func (cfg AuthConfig) Enabled() bool {
	return cfg.JWTSecret != ""
}

var errMissingToken = errors.New("missing bearer token")

// validateJWT validates a token and extracts the identity its commits are
// authored as.
func (cfg AuthConfig) validateJWT(tokenString string) (core.Identity, error) {
	nameClaim := cfg.NameClaim
	if nameClaim == "" {
		nameClaim = "name"
	}
	emailClaim := cfg.EmailClaim
	if emailClaim == "" {
		emailClaim = "email"
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.JWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
	if err != nil {
		return core.Identity{}, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return core.Identity{}, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return core.Identity{}, errors.New("invalid token claims")
	}

	if cfg.Issuer != "" {
		issuer, _ := claims.GetIssuer()
		if issuer != cfg.Issuer {
			return core.Identity{}, fmt.Errorf("invalid issuer: expected %s, got %s", cfg.Issuer, issuer)
		}
	}

	if cfg.Audience != "" {
		audiences, _ := claims.GetAudience()
		if !slices.Contains(audiences, cfg.Audience) {
			return core.Identity{}, fmt.Errorf("invalid audience: expected %s", cfg.Audience)
		}
	}

	name, _ := claims[nameClaim].(string)
	email, _ := claims[emailClaim].(string)
	if name == "" && email == "" {
		return core.Identity{}, fmt.Errorf("token missing identity claims (%s or %s)", nameClaim, emailClaim)
	}
	if name == "" {
		name = email
	}
	return core.Identity{Name: name, Email: email}, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errMissingToken
	}
	return strings.TrimSpace(token), nil
}

// authenticate rejects requests without a valid token and attaches the
// token's identity to the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err == nil {
			var identity core.Identity
			identity, err = s.auth.validateJWT(token)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(catalog.WithIdentity(r.Context(), identity)))
				return
			}
		}

		s.logger.Debug("request rejected", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusUnauthorized, "NotAuthorizedException", err.Error())
	})
}
