package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	guardrailsPath = "/v3.0/aiSecurity/applyGuardrails"
	userAgent      = "Trend-AI-Guard-Demo/1.0"
	maxErrorBody   = 4 << 10
)

// Verdict is the classifier's answer.
type Verdict struct {
	Action  string
	Reasons []string
	Raw     map[string]any
}

// Classifier screens a prompt.
type Classifier interface {
	Classify(ctx context.Context, prompt string) (Verdict, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, prompt string) (Verdict, error)

func (f ClassifierFunc) Classify(ctx context.Context, prompt string) (Verdict, error) {
	return f(ctx, prompt)
}

// StatusError is a non-2xx classifier response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Status %d: %s", e.StatusCode, e.Body)
}

// HTTPOptions configures HTTPClassifier.
type HTTPOptions struct {
	BaseURL string
	APIKey  string
	AppName string
	Client  *http.Client
}

// HTTPClassifier calls the Trend Vision One AI Guard guardrails endpoint.
type HTTPClassifier struct {
	endpoint string
	apiKey   string
	appName  string
	client   *http.Client
}

func NewHTTPClassifier(opts HTTPOptions) *HTTPClassifier {
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPClassifier{
		endpoint: strings.TrimRight(opts.BaseURL, "/") + guardrailsPath,
		apiKey:   opts.APIKey,
		appName:  opts.AppName,
		client:   client,
	}
}

// Endpoint returns the full guardrails URL.
func (c *HTTPClassifier) Endpoint() string {
	return c.endpoint
}

func (c *HTTPClassifier) Classify(ctx context.Context, prompt string) (Verdict, error) {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return Verdict{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Verdict{}, fmt.Errorf("build guard request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("TMV1-Application-Name", c.appName)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("guard request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Verdict{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var raw map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return Verdict{}, fmt.Errorf("decode guard response: %w", err)
	}
	if raw == nil {
		return Verdict{}, fmt.Errorf("decode guard response: empty body")
	}
	return verdictFromRaw(raw), nil
}

func verdictFromRaw(raw map[string]any) Verdict {
	v := Verdict{Raw: raw}
	v.Action, _ = raw["action"].(string)
	if list, ok := raw["reasons"].([]any); ok {
		for _, item := range list {
			switch r := item.(type) {
			case string:
				v.Reasons = append(v.Reasons, r)
			case nil:
			default:
				data, err := json.Marshal(r)
				if err != nil {
					v.Reasons = append(v.Reasons, fmt.Sprint(r))
					continue
				}
				v.Reasons = append(v.Reasons, string(data))
			}
		}
	}
	return v
}
