package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

func (app *application) BasicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// read the auth header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("authorization header is missing"))
				return
			}

			// parse it -> get the base64
			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Basic" {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("authorization header is malformed"))
				return
			}

			// decode it
			decoded, err := base64.StdEncoding.DecodeString(parts[1])
			if err != nil {
				app.unauthorizedBasicErrorResponse(w, r, err)
				return
			}

			// check the credentials
			username := app.config.auth.basic.user
			hash := app.config.auth.basic.passHash
			if username == "" || hash == "" {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("basic auth is not configured"))
				return
			}

			creds := strings.SplitN(string(decoded), ":", 2)
			if len(creds) != 2 || creds[0] != username {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("invalid credentials"))
				return
			}
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(creds[1])); err != nil {
				app.unauthorizedBasicErrorResponse(w, r, fmt.Errorf("invalid credentials"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

type storefrontKey string

const storefrontCtx storefrontKey = "storefront"

// StorefrontAuthMiddleware admits requests carrying a storefront bearer token and puts the
// token's subject, the correlation id it was issued for, on the request context.
func (app *application) StorefrontAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if app.storefront == nil {
			app.unauthorizedErrorResponse(w, r, fmt.Errorf("storefront tokens are not configured"))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			app.unauthorizedErrorResponse(w, r, fmt.Errorf("authorization header is missing"))
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			app.unauthorizedErrorResponse(w, r, fmt.Errorf("authorization header is malformed"))
			return
		}

		jwtToken, err := app.storefront.ValidateToken(parts[1])
		if err != nil {
			app.unauthorizedErrorResponse(w, r, err)
			return
		}

		subject, err := jwtToken.Claims.GetSubject()
		if err != nil || subject == "" {
			app.unauthorizedErrorResponse(w, r, fmt.Errorf("token has no subject"))
			return
		}

		ctx := context.WithValue(r.Context(), storefrontCtx, subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func storefrontSubject(r *http.Request) string {
	subject, _ := r.Context().Value(storefrontCtx).(string)
	return subject
}

func (app *application) RateLimiterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if app.config.rateLimiter.Enabled && app.rateLimiter != nil {
			if allow, retryAfter := app.rateLimiter.Allow(r.RemoteAddr); !allow {
				app.rateLimitExceededResponse(w, r, retryAfter)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}
