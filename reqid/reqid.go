// Package reqid generates a unique request ID for each incoming HTTP
// request, for log correlation across the gate and the facilitator. It is
// a net/http adaptation of the request-ID middleware pattern the broader
// example pack implements against other router frameworks.
package reqid

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// Header is the request/response header carrying the request ID.
const Header = "X-Request-Id"

type contextKey struct{}

// validIDPattern matches UUIDs or alphanumeric+hyphen strings up to 64
// chars, the same bound the pack's middleware uses to reject a hostile
// client-supplied ID before it ends up in a log line.
var validIDPattern = regexp.MustCompile(`^[0-9a-zA-Z-]{1,64}$`)

// Middleware assigns a request ID to every request: it accepts a
// client-supplied X-Request-Id header if well-formed, otherwise generates
// a fresh UUID. The ID is echoed in the response header and attached to
// the request context for handlers to log alongside their own fields.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(Header)
		if id == "" || !validIDPattern.MatchString(id) {
			id = uuid.NewString()
		}
		w.Header().Set(Header, id)
		ctx := context.WithValue(r.Context(), contextKey{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// FromContext returns the request ID attached by Middleware, or "" if none.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}
