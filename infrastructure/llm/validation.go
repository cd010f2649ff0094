package llm

import (
	"fmt"
	"net/url"
)

// Sampling temperature bounds accepted by both providers.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// ValidateBaseURL checks that baseURL is an absolute http or https URL and
// returns it normalized.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("URL scheme must be http or https, but got: %q", parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return "", fmt.Errorf("URL must include a host")
	}

	if parsedURL.RawQuery != "" || parsedURL.Fragment != "" {
		return "", fmt.Errorf("URL must not carry a query or fragment")
	}

	return parsedURL.String(), nil
}

// ClampFloat64 restricts val to [min, max].
func ClampFloat64(val, min, max float64) float64 {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
