package httpapi

// maxBodyBytes caps request bodies on the JSON endpoints. Predict inputs
// are small control-plane payloads, so the default is deliberately tight.
var maxBodyBytes int64 = 1 << 20

// SetMaxBodyBytes overrides the request body cap; n <= 0 restores the
// default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = 1 << 20
		return
	}
	maxBodyBytes = n
}

// CORS is opt-in: with corsEnabled false the middleware is never mounted
// and browsers get no Access-Control headers at all.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures the CORS middleware mounted by NewMux. The
// slices are copied; callers may reuse their backing arrays.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}
