package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
)

type ctxKey struct{}

// BasicAuth admits requests whose credentials match one of users (login to
// password) and stores the login on the request context.
func BasicAuth(users map[string]string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			login, pass, ok := r.BasicAuth()
			if !ok {
				requireAuth(w)
				return
			}

			want, known := users[login]
			if !known || subtle.ConstantTimeCompare([]byte(pass), []byte(want)) != 1 {
				requireAuth(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithLogin(r.Context(), login)))
		})
	}
}

func WithLogin(ctx context.Context, login string) context.Context {
	return context.WithValue(ctx, ctxKey{}, login)
}

// Login returns the authenticated operator, "" outside BasicAuth.
func Login(ctx context.Context) string {
	login, _ := ctx.Value(ctxKey{}).(string)
	return login
}

func requireAuth(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="Material Issue"`)
	http.Error(w, "Unauthorized", http.StatusUnauthorized)
}
