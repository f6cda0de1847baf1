// Package compliance consults the external contact-compliance service before
// a call queue is handed to the dialer.
package compliance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ReasonGateUnavailable is reported when the gate could not be consulted.
const ReasonGateUnavailable = "compliance_gate_unavailable"

// ReasonGateNotConfigured is reported by the gate used when no compliance
// service is configured.
const ReasonGateNotConfigured = "compliance_gate_not_configured"

// ErrGateUnavailable wraps transport and protocol failures talking to the gate.
var ErrGateUnavailable = errors.New("compliance gate unavailable")

// Decision is the gate's answer for one contact.
type Decision struct {
	Reasons []string `json:"reasons"`
	Allowed bool     `json:"allowed"`
}

// Gate answers whether a phone number may be contacted on behalf of a user.
type Gate interface {
	IsContactAllowed(ctx context.Context, phone, userID string, override bool) (Decision, error)
}

// HTTPGate calls a compliance service over HTTP.
type HTTPGate struct {
	client *http.Client
	url    string
}

// NewHTTPGate returns a gate that POSTs to url.
func NewHTTPGate(url string, timeout time.Duration) *HTTPGate {
	return &HTTPGate{client: &http.Client{Timeout: timeout}, url: url}
}

type gateRequest struct {
	Phone    string `json:"phone"`
	UserID   string `json:"user_id"`
	Override bool   `json:"override"`
}

func (g *HTTPGate) IsContactAllowed(ctx context.Context, phone, userID string, override bool) (Decision, error) {
	payload, err := json.Marshal(gateRequest{Phone: phone, UserID: userID, Override: override})
	if err != nil {
		return Decision{}, fmt.Errorf("failed to encode compliance request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrGateUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrGateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Decision{}, fmt.Errorf("%w: status %d: %s", ErrGateUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decision Decision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return Decision{}, fmt.Errorf("%w: failed to decode response: %v", ErrGateUnavailable, err)
	}
	if decision.Reasons == nil {
		decision.Reasons = []string{}
	}
	return decision, nil
}

// DenyAll blocks every contact. It stands in when no compliance service is
// configured so an unconfigured deployment can never dial.
type DenyAll struct{}

func (DenyAll) IsContactAllowed(context.Context, string, string, bool) (Decision, error) {
	return Decision{Allowed: false, Reasons: []string{ReasonGateNotConfigured}}, nil
}

// New returns an HTTPGate for url, or DenyAll when url is empty.
func New(url string, timeout time.Duration) Gate {
	if strings.TrimSpace(url) == "" {
		return DenyAll{}
	}
	return NewHTTPGate(url, timeout)
}
