package trace

import "net/http"

// Middleware attaches a trace id to each request, honoring an inbound
// X-Trace-Id header, and echoes it back in the response.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderKey)
		if id == "" {
			id = NewID()
		}
		w.Header().Set(HeaderKey, id)
		next.ServeHTTP(w, r.WithContext(WithContext(r.Context(), id)))
	})
}
