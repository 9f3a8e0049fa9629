package agentapi

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var errNotConfigured = errors.New("LYZR_API_KEY not configured")

const defaultUserID = "concierge-guest"

// Proxy serves POST /api/agent by forwarding to the agent inference
// endpoint with the server-held API key and normalizing the answer into a
// Result.
type Proxy struct {
	upstream string
	apiKey   string
	agentID  string
	client   *http.Client
	logger   *zap.Logger
}

func NewProxy(upstream, apiKey, agentID string, timeout time.Duration, logger *zap.Logger) *Proxy {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		upstream: strings.TrimSpace(upstream),
		apiKey:   strings.TrimSpace(apiKey),
		agentID:  strings.TrimSpace(agentID),
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type inferenceRequest struct {
	UserID    string `json:"user_id"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResult(w, http.StatusBadRequest, Result{Error: "invalid JSON body"})
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		writeResult(w, http.StatusBadRequest, Result{Error: "message is required"})
		return
	}
	if p.apiKey == "" {
		writeResult(w, http.StatusInternalServerError, Result{Error: errNotConfigured.Error()})
		return
	}
	agentID := strings.TrimSpace(req.AgentID)
	if agentID == "" {
		agentID = p.agentID
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = agentID + "-" + uuid.NewString()
	}

	result, err := p.forward(r, inferenceRequest{
		UserID:    defaultUserID,
		AgentID:   agentID,
		SessionID: sessionID,
		Message:   req.Message,
	})
	if err != nil {
		p.logger.Warn("agent inference failed", zap.String("agent_id", agentID), zap.Error(err))
		writeResult(w, http.StatusOK, Result{Error: err.Error()})
		return
	}
	writeResult(w, http.StatusOK, result)
}

func (p *Proxy) forward(r *http.Request, in inferenceRequest) (Result, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, p.upstream, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)

	res, err := p.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return Result{}, fmt.Errorf("agent http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		text, err := consumeStreaming(res.Body)
		if err != nil {
			return Result{}, err
		}
		return Result{Success: true, Response: map[string]any{"message": text}}, nil
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	return normalize(body), nil
}

// normalize maps an inference body onto Result. A string "response" field
// that itself holds a JSON object is unwrapped.
func normalize(body []byte) Result {
	raw := strings.TrimSpace(string(body))
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return Result{Success: true, Response: map[string]any{}, RawResponse: raw}
	}

	resp, ok := obj["response"]
	if !ok {
		return Result{Success: true, Response: obj, RawResponse: raw}
	}
	if s, ok := resp.(string); ok {
		var inner map[string]any
		if err := json.Unmarshal([]byte(s), &inner); err == nil && inner != nil {
			return Result{Success: true, Response: inner, RawResponse: raw}
		}
		return Result{Success: true, Response: map[string]any{"message": s}, RawResponse: raw}
	}
	return Result{Success: true, Response: resp, RawResponse: raw}
}

func consumeStreaming(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
		if line == "[DONE]" {
			break
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = deltaText(obj)
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

func deltaText(obj map[string]any) string {
	for _, k := range []string{"text", "delta", "response", "message"} {
		if s, ok := obj[k].(string); ok {
			return s
		}
	}
	return ""
}

func writeResult(w http.ResponseWriter, status int, v Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
