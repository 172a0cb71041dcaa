package httpx

import (
	"net/http"
	"strconv"
	"time"
)

// Problem type URIs understood by the dashboard shell.
const (
	TypeSessionInvalid  = "/problems/session-invalid"
	TypeUnauthenticated = "/problems/unauthenticated"
	TypeUnavailable     = "/problems/unavailable"
	TypeForbidden       = "/problems/forbidden"
)

// SessionInvalid answers 401 and points the client at the sign-in page.
func SessionInvalid(w http.ResponseWriter, signInPath, detail string) {
	w.Header().Set("Location", signInPath)
	TypedProblem(w, http.StatusUnauthorized, TypeSessionInvalid, "Session expired", detail)
}

// Unauthenticated answers 401 for a request without any session.
func Unauthenticated(w http.ResponseWriter, signInPath string) {
	w.Header().Set("Location", signInPath)
	TypedProblem(w, http.StatusUnauthorized, TypeUnauthenticated, "Sign in required", "")
}

// Unavailable answers 503 with a Retry-After hint.
func Unavailable(w http.ResponseWriter, title, detail string, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int(retryAfter.Round(time.Second) / time.Second)
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	TypedProblem(w, http.StatusServiceUnavailable, TypeUnavailable, title, detail)
}

// Forbidden answers 403.
func Forbidden(w http.ResponseWriter, detail string) {
	TypedProblem(w, http.StatusForbidden, TypeForbidden, "Forbidden", detail)
}
