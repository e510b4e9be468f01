package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrLiveKitURLMissing is returned when the checker has no URL.
var ErrLiveKitURLMissing = errors.New("livekit url not configured")

// LiveKitChecker checks that the LiveKit server answers HTTP.
type LiveKitChecker struct {
	url    string
	client *http.Client
}

// NewLiveKitChecker creates a LiveKit health checker. A ws:// or wss://
// signalling URL is probed over the matching http scheme.
func NewLiveKitChecker(url string) *LiveKitChecker {
	return &LiveKitChecker{
		url: httpURL(url),
		client: &http.Client{
			Timeout: 3 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

func httpURL(u string) string {
	switch {
	case strings.HasPrefix(u, "wss://"):
		return "https://" + strings.TrimPrefix(u, "wss://")
	case strings.HasPrefix(u, "ws://"):
		return "http://" + strings.TrimPrefix(u, "ws://")
	}
	return u
}

// HealthCheck implements Checker. Only 2xx responses count as healthy.
func (l *LiveKitChecker) HealthCheck(ctx context.Context) error {
	if l.url == "" {
		return ErrLiveKitURLMissing
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach livekit server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("livekit unhealthy: unexpected status code %d", resp.StatusCode)
	}
	return nil
}
