package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type ownerKey struct{}

// Verify the bearer token of the request and put its subject into the
// request context as the owner of the stories.
func authenticate(secret string, logger *zap.Logger) func(http.Handler) http.Handler {
	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			scheme, raw, ok := strings.Cut(header, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || raw == "" {
				replyJSON(w, &AppError{http.StatusUnauthorized, "Authorization header missing or malformed"}, http.StatusUnauthorized)
				return
			}
			claims := &jwt.RegisteredClaims{}
			if _, err := jwt.ParseWithClaims(raw, claims, keyFunc); err != nil {
				logger.Debug("Token rejected", zap.Error(err))
				msg := "Token is invalid"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "Token has expired"
				}
				replyJSON(w, &AppError{http.StatusUnauthorized, msg}, http.StatusUnauthorized)
				return
			}
			if claims.Subject == "" {
				replyJSON(w, &AppError{http.StatusUnauthorized, "Token has no subject"}, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ownerKey{}, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ownerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}
