package util

import (
	"net/http"
	"runtime/debug"
)

// WithRecover turns a handler panic into a 500 JSON response.
func WithRecover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			LoggerFromContext(r.Context()).Error("handler panic",
				"panic", rec,
				"path", r.URL.Path,
				"stack", string(debug.Stack()),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"message":"Internal server error","code":"SYSTEM_INTERNAL_ERROR"}` + "\n"))
		}()
		next.ServeHTTP(w, r)
	})
}
