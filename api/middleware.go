package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"

	"github.com/garnizeh/cvpipe/internal/models"
)

type ctxKey string

const ctxRequester ctxKey = "requester"

// Session identity sources for anonymous requesters.
const (
	SessionHeader = "X-Session-ID"
	SessionCookie = "sid"
)

// package-level logger used by middleware and helpers; can be set via SetLogger from caller
var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger installs a logger for the api package. Passing nil is a no-op.
func SetLogger(l *slog.Logger) {
	if l != nil {
		logger = l
	}
}

func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote", r.RemoteAddr),
		)
		next.ServeHTTP(w, r)
	})
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key, "+SessionHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic", slog.Any("err", err), slog.String("path", r.URL.Path))
				writeError(w, http.StatusInternalServerError, "internal", "Internal Server Error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// IdentityMiddleware resolves the requester of every request. A bearer token is
// optional, but when present it must be a valid HS256 token whose "sub" claim
// becomes the user id. The session id comes from the X-Session-ID header or
// the sid cookie.
func IdentityMiddleware(secret string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req models.Requester

			if authHeader := r.Header.Get("Authorization"); authHeader != "" {
				tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
				tokenString = strings.TrimSpace(tokenString)
				if !ok || tokenString == "" {
					writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid Authorization header")
					return
				}

				userID, err := subject(tokenString, secret)
				if err != nil {
					logger.Debug("rejected bearer token", slog.Any("err", err))
					writeError(w, http.StatusUnauthorized, "unauthenticated", "invalid or expired token")
					return
				}
				req.UserID = userID
			}

			req.SessionID = strings.TrimSpace(r.Header.Get(SessionHeader))
			if req.SessionID == "" {
				if c, err := r.Cookie(SessionCookie); err == nil {
					req.SessionID = c.Value
				}
			}

			ctx := context.WithValue(r.Context(), ctxRequester, req)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func subject(tokenString, secret string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}

		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", fmt.Errorf("token not valid")
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("read subject: %w", err)
	}
	if sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// RequesterFromContext returns the requester resolved by IdentityMiddleware.
func RequesterFromContext(ctx context.Context) models.Requester {
	req, _ := ctx.Value(ctxRequester).(models.Requester)
	return req
}
