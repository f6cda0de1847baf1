package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGate struct {
	mock.Mock
}

func (m *mockGate) IsContactAllowed(ctx context.Context, phone, userID string, override bool) (Decision, error) {
	args := m.Called(ctx, phone, userID, override)
	return args.Get(0).(Decision), args.Error(1)
}

func TestHTTPGate_Allowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req gateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "+15550001", req.Phone)
		assert.Equal(t, "u1", req.UserID)
		assert.True(t, req.Override)

		_ = json.NewEncoder(w).Encode(map[string]interface{}{"allowed": true})
	}))
	defer srv.Close()

	decision, err := NewHTTPGate(srv.URL, time.Second).IsContactAllowed(context.Background(), "+15550001", "u1", true)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, []string{}, decision.Reasons)
}

func TestHTTPGate_Denied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Decision{Allowed: false, Reasons: []string{"dnc_registry"}})
	}))
	defer srv.Close()

	decision, err := NewHTTPGate(srv.URL, time.Second).IsContactAllowed(context.Background(), "+15550002", "u1", false)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, []string{"dnc_registry"}, decision.Reasons)
}

func TestHTTPGate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTPGate(srv.URL, time.Second).IsContactAllowed(context.Background(), "+1", "u1", false)
	assert.True(t, errors.Is(err, ErrGateUnavailable))
}

func TestNew_UnconfiguredDeniesAll(t *testing.T) {
	gate := New("  ", time.Second)
	decision, err := gate.IsContactAllowed(context.Background(), "+1", "u1", true)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, []string{ReasonGateNotConfigured}, decision.Reasons)

	_, ok := New("http://compliance.local/check", time.Second).(*HTTPGate)
	assert.True(t, ok)
}

func TestFilterQueue(t *testing.T) {
	gate := new(mockGate)
	ctx := context.Background()
	gate.On("IsContactAllowed", ctx, "+1", "u1", false).Return(Decision{Allowed: true}, nil)
	gate.On("IsContactAllowed", ctx, "+2", "u1", false).Return(Decision{Allowed: false, Reasons: []string{"dnc_registry"}}, nil)
	gate.On("IsContactAllowed", ctx, "+3", "u1", true).Return(Decision{}, errors.New("timeout"))
	gate.On("IsContactAllowed", ctx, "+4", "u2", false).Return(Decision{Allowed: true}, nil)

	result := FilterQueue(ctx, gate, []QueueEntry{
		{LeadID: "a", Phone: "+1", UserID: "u1"},
		{LeadID: "b", Phone: "+2", UserID: "u1"},
		{LeadID: "c", Phone: "+3", UserID: "u1", Override: true},
		{LeadID: "d", Phone: "+4", UserID: "u2"},
	})

	require.Len(t, result.Allowed, 2)
	assert.Equal(t, "a", result.Allowed[0].LeadID)
	assert.Equal(t, "d", result.Allowed[1].LeadID)

	require.Len(t, result.Blocked, 2)
	assert.Equal(t, "b", result.Blocked[0].LeadID)
	assert.Equal(t, []string{"dnc_registry"}, result.Blocked[0].Reasons)
	assert.Equal(t, "c", result.Blocked[1].LeadID)
	assert.Equal(t, []string{ReasonGateUnavailable}, result.Blocked[1].Reasons)

	gate.AssertExpectations(t)
}

func TestFilterQueue_CancelledContextBlocksEverything(t *testing.T) {
	gate := new(mockGate)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := FilterQueue(ctx, gate, []QueueEntry{{Phone: "+1", UserID: "u1"}})
	assert.Empty(t, result.Allowed)
	require.Len(t, result.Blocked, 1)
	gate.AssertNotCalled(t, "IsContactAllowed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
