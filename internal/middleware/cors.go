package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"vexgate/internal/types"
)

// CORS creates CORS middleware from the gateway configuration
func CORS(config *types.GatewayConfig) types.Middleware {
	cfg := config.Middleware.CORS

	// Prepare allowed origins map for faster lookup
	allowedOrigins := make(map[string]bool)
	allowAllOrigins := false
	for _, origin := range cfg.AllowedOrigins {
		if origin == "*" {
			allowAllOrigins = true
			break
		}
		allowedOrigins[origin] = true
	}

	allowedMethods := strings.Join(cfg.AllowedMethods, ", ")
	allowedHeaders := strings.Join(cfg.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" {
				allowed := allowAllOrigins || allowedOrigins[origin]

				if allowed {
					w.Header().Set("Access-Control-Allow-Origin", origin)

					if cfg.AllowCredentials {
						w.Header().Set("Access-Control-Allow-Credentials", "true")
					}

					// Handle preflight requests
					if r.Method == http.MethodOptions {
						w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
						w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)

						if cfg.MaxAge > 0 {
							w.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
						}

						w.WriteHeader(http.StatusNoContent)
						return
					}

					w.Header().Add("Vary", "Origin")
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
