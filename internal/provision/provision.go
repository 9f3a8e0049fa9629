package provision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/antoniostano/concierge/internal/reliability"
)

// ErrNotConfigured is returned when no API key is available to build an
// endpoint. Its text is the provisioner route's error body.
var ErrNotConfigured = errors.New("LYZR_API_KEY not configured")

// Provisioner supplies the realtime endpoint URL for one voice session.
type Provisioner interface {
	Endpoint(ctx context.Context) (string, error)
}

// Static builds the endpoint from local configuration.
type Static struct {
	BaseURL string
	AgentID string
	APIKey  string
}

func NewStatic(baseURL, agentID, apiKey string) *Static {
	return &Static{
		BaseURL: strings.TrimSpace(baseURL),
		AgentID: strings.TrimSpace(agentID),
		APIKey:  strings.TrimSpace(apiKey),
	}
}

func (s *Static) Endpoint(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.APIKey == "" {
		return "", ErrNotConfigured
	}
	if s.BaseURL == "" {
		return "", errors.New("voice base url not configured")
	}
	if s.AgentID == "" {
		return "", errors.New("agent id not configured")
	}
	return BuildURL(s.BaseURL, s.AgentID, s.APIKey), nil
}

// BuildURL appends the agent id and API key query parameters to base.
func BuildURL(base, agentID, apiKey string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "agent_id=" + url.QueryEscape(agentID) + "&x_api_key=" + url.QueryEscape(apiKey)
}

// EndpointResponse is the body of the provisioner route: wsUrl on success,
// error otherwise.
type EndpointResponse struct {
	WSURL string `json:"wsUrl,omitempty"`
	Error string `json:"error,omitempty"`
}

// StatusError is a non-200 answer from a remote provisioner.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provisioner status %d", e.StatusCode)
	}
	return fmt.Sprintf("provisioner status %d: %s", e.StatusCode, e.Message)
}

// HTTP asks a remote provisioner route for the endpoint.
type HTTP struct {
	url         string
	client      *http.Client
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	logger      *zap.Logger
}

func NewHTTP(endpoint string, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{
		url:         strings.TrimSpace(endpoint),
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: 3,
		backoffBase: 200 * time.Millisecond,
		backoffCap:  2 * time.Second,
		logger:      logger,
	}
}

func (h *HTTP) Endpoint(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 0; attempt < h.maxAttempts; attempt++ {
		if attempt > 0 {
			wait := reliability.ExponentialBackoff(attempt-1, h.backoffBase, h.backoffCap)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
		}
		wsURL, err := h.fetch(ctx)
		if err == nil {
			return wsURL, nil
		}
		lastErr = err
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || !reliability.IsRetryableHTTPStatus(statusErr.StatusCode) {
			return "", err
		}
		h.logger.Debug("provisioner retry", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return "", lastErr
}

func (h *HTTP) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	res, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request endpoint: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 16<<10))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var out EndpointResponse
	decodeErr := json.Unmarshal(body, &out)

	if res.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(out.Error)
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return "", &StatusError{StatusCode: res.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return "", fmt.Errorf("decode response: %w", decodeErr)
	}
	if strings.TrimSpace(out.WSURL) == "" {
		return "", errors.New("provisioner returned no wsUrl")
	}
	return out.WSURL, nil
}
