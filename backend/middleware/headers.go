package middleware

import "net/http"

// SecurityHeaders adds security-related HTTP headers to every response,
// before the wrapped handler runs so rejections carry them too.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()

		// Prevent clickjacking
		h.Set("X-Frame-Options", "DENY")

		// Prevent MIME type sniffing
		h.Set("X-Content-Type-Options", "nosniff")

		// XSS protection (legacy, but still useful for older browsers)
		h.Set("X-XSS-Protection", "1; mode=block")

		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		h.Set("Referrer-Policy", "no-referrer")

		// JSON API only: nothing may be loaded or framed
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Tokens and account data must not be cached
		h.Set("Cache-Control", "no-store")

		next.ServeHTTP(w, r)
	})
}
