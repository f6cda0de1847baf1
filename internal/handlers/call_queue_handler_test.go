package handlers

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stwalsh4118/parcelheat/internal/compliance"
	apierrors "github.com/stwalsh4118/parcelheat/internal/errors"
)

func TestCallQueueHandler_Filter(t *testing.T) {
	th := newTestHandlers()
	th.gate.On("IsContactAllowed", mock.Anything, "+15125550100", "agent-1", false).
		Return(compliance.Decision{Allowed: true}, nil)
	th.gate.On("IsContactAllowed", mock.Anything, "+15125550101", "agent-1", false).
		Return(compliance.Decision{Allowed: false, Reasons: []string{"dnc_registry"}}, nil)
	th.gate.On("IsContactAllowed", mock.Anything, "+15125550102", "agent-1", true).
		Return(compliance.Decision{}, errors.New("gate timeout"))

	body := `{"entries":[
		{"leadId":"l-1","phone":"+15125550100","userId":"agent-1"},
		{"leadId":"l-2","phone":"+15125550101","userId":"agent-1"},
		{"leadId":"l-3","phone":"+15125550102","userId":"agent-1","override":true}
	]}`
	w := doRequest(th.router(), http.MethodPost, "/api/v1/call-queue/filter", body)

	assert.Equal(t, http.StatusOK, w.Code)
	got := decode[compliance.FilterResult](t, w)
	if assert.Len(t, got.Allowed, 1) {
		assert.Equal(t, "l-1", got.Allowed[0].LeadID)
	}
	if assert.Len(t, got.Blocked, 2) {
		assert.Equal(t, []string{"dnc_registry"}, got.Blocked[0].Reasons)
		assert.Equal(t, []string{compliance.ReasonGateUnavailable}, got.Blocked[1].Reasons)
		assert.Equal(t, "l-3", got.Blocked[1].LeadID)
	}
	th.assertExpectations(t)
}

func TestCallQueueHandler_FilterValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty queue", `{"entries":[]}`},
		{"missing phone", `{"entries":[{"leadId":"l-1","userId":"agent-1"}]}`},
		{"missing user", `{"entries":[{"leadId":"l-1","phone":"+15125550100"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := newTestHandlers()

			w := doRequest(th.router(), http.MethodPost, "/api/v1/call-queue/filter", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, apierrors.ErrValidation, decode[apierrors.ErrorResponse](t, w).Error.Code)
			th.gate.AssertNotCalled(t, "IsContactAllowed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}
