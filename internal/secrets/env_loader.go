package secrets

import "os"

// EnvLoader returns a Loader that reads the named environment variables.
// Unset variables are left out of the result.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// WithFallback fills keys missing from the loaded values with fixed ones,
// such as secrets read from the YAML config at startup.
func WithFallback(l Loader, fallback map[string]string) Loader {
	return func() (map[string]string, error) {
		vals, err := l()
		if err != nil {
			return nil, err
		}
		for k, v := range fallback {
			if _, ok := vals[k]; !ok && v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
