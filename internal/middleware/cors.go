package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"planning-poker/pkg/logger"
)

// CORSConfig holds CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
}

// DefaultCORSConfig returns a default CORS configuration
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodOptions,
		},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"Content-Length",
			"Accept-Encoding",
			"Authorization",
			"X-Requested-With",
			"X-Request-ID",
		},
		ExposedHeaders: []string{
			"Content-Length",
			"Content-Type",
			"X-Request-ID",
		},
		AllowCredentials: true,
		MaxAge:           86400, // 24 hours
	}
}

// originPolicy decides which request origins are echoed back
type originPolicy struct {
	any     bool
	allowed map[string]bool
}

func newOriginPolicy(origins []string) originPolicy {
	p := originPolicy{any: len(origins) == 0, allowed: make(map[string]bool, len(origins))}
	for _, origin := range origins {
		if origin == "*" {
			p.any = true
		}
		p.allowed[strings.TrimRight(origin, "/")] = true
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	return origin != "" && (p.any || p.allowed[origin])
}

// CORS creates a CORS middleware. Allowed origins are echoed rather than
// answered with "*" so credentialed requests keep working. Preflights from
// other origins are refused with 403; simple requests pass through without
// CORS headers and the browser blocks the response.
func CORS(config *CORSConfig, logger *logger.Logger) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultCORSConfig()
	}

	origins := newOriginPolicy(config.AllowedOrigins)
	static := map[string]string{}
	if config.AllowCredentials {
		static["Access-Control-Allow-Credentials"] = "true"
	}
	if len(config.ExposedHeaders) > 0 {
		static["Access-Control-Expose-Headers"] = strings.Join(config.ExposedHeaders, ", ")
	}

	preflight := map[string]string{}
	if len(config.AllowedMethods) > 0 {
		preflight["Access-Control-Allow-Methods"] = strings.Join(config.AllowedMethods, ", ")
	}
	if len(config.AllowedHeaders) > 0 {
		preflight["Access-Control-Allow-Headers"] = strings.Join(config.AllowedHeaders, ", ")
	}
	if config.MaxAge > 0 {
		preflight["Access-Control-Max-Age"] = strconv.Itoa(config.MaxAge)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			isPreflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

			w.Header().Add("Vary", "Origin")
			if !origins.allows(origin) {
				if isPreflight {
					logger.WithFields(map[string]interface{}{
						"origin": origin,
						"path":   r.URL.Path,
					}).Debug("CORS preflight rejected")
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			for k, v := range static {
				w.Header().Set(k, v)
			}

			if isPreflight {
				for k, v := range preflight {
					w.Header().Set(k, v)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
