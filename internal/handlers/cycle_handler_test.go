package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	apierrors "github.com/stwalsh4118/parcelheat/internal/errors"
	"github.com/stwalsh4118/parcelheat/internal/models"
	"github.com/stwalsh4118/parcelheat/internal/services"
	"github.com/stwalsh4118/parcelheat/internal/sources"
)

func TestCycleHandler_Run(t *testing.T) {
	th := newTestHandlers()
	summary := &services.CycleSummary{
		CycleID:  "01JNMXQ6Y3ZK1T8S0V9W2E4R5A",
		Mode:     services.ModeBroad,
		Counties: []string{"Harris"},
		Sources:  []services.SourceSummary{{Source: "county_records", Tier: models.TierBroad, Crawled: 2, Inserted: 2}},
		Totals:   services.CycleTotals{Crawled: 2, Inserted: 2},
	}
	th.cycles.On("Run", mock.Anything, models.Actor("ops@example.com"), services.CycleRequest{
		Mode:     services.ModeBroad,
		Counties: []string{"Harris"},
	}).Return(summary, nil)

	w := doRequest(th.router(), http.MethodPost, "/api/v1/cycles", `{"mode":"broad","counties":["Harris"]}`)

	assert.Equal(t, http.StatusOK, w.Code)
	got := decode[services.CycleSummary](t, w)
	assert.Equal(t, summary.CycleID, got.CycleID)
	assert.Equal(t, summary.Totals, got.Totals)
	th.assertExpectations(t)
}

func TestCycleHandler_RunErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		serviceErr error
		status     int
		code       string
	}{
		{"missing counties", `{"mode":"all"}`, nil, http.StatusBadRequest, apierrors.ErrValidation},
		{"malformed json", `{"counties":`, nil, http.StatusBadRequest, apierrors.ErrBadRequest},
		{"unknown mode", `{"mode":"hourly","counties":["Harris"]}`, nil, http.StatusBadRequest, apierrors.ErrInvalidSchedule},
		{"unknown county", `{"counties":["Atlantis"]}`, fmt.Errorf("%w: county \"Atlantis\" is not configured", services.ErrInvalidSchedule), http.StatusBadRequest, apierrors.ErrInvalidSchedule},
		{"store down", `{"counties":["Harris"]}`, fmt.Errorf("%w: connection refused", services.ErrStoreUnavailable), http.StatusServiceUnavailable, apierrors.ErrDatabaseConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := newTestHandlers()
			if tt.serviceErr != nil {
				th.cycles.On("Run", mock.Anything, mock.Anything, mock.Anything).Return(nil, tt.serviceErr)
			}

			w := doRequest(th.router(), http.MethodPost, "/api/v1/cycles", tt.body)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode[apierrors.ErrorResponse](t, w).Error.Code)
			th.assertExpectations(t)
		})
	}
}

func TestCycleHandler_PartnerSignals(t *testing.T) {
	th := newTestHandlers()
	var captured sources.Adapter
	th.cycles.On("RunBatch", mock.Anything, models.Actor("ops@example.com"), mock.Anything, []string(nil)).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).(sources.Adapter)
		}).
		Return(&services.CycleSummary{CycleID: "c-1", Mode: services.ModePartner}, nil)

	body := `{
		"partner": "Acme Wholesale",
		"records": [{
			"parcel_id": "R-100",
			"county": "Harris",
			"distress_type": "probate",
			"severity": 8,
			"observed_date": "2026-02-10",
			"equity_percent": 55,
			"payload": {"case": "2026-PR-1"}
		}]
	}`
	w := doRequest(th.router(), http.MethodPost, "/api/v1/sources/partner/signals", body)

	assert.Equal(t, http.StatusAccepted, w.Code)
	require.NotNil(t, captured)
	assert.Equal(t, "acme wholesale", captured.Name())
	assert.Equal(t, models.TierPartner, captured.Tier())

	records, err := captured.ProduceRecords(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, models.OriginPartner, rec.Origin)
	assert.Equal(t, "acme wholesale", rec.Source)
	assert.Equal(t, models.EventProbate, rec.DistressType)
	assert.Equal(t, 8, rec.Severity)
	assert.Equal(t, time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC), rec.ObservedDate)
	require.NotNil(t, rec.Attributes.EquityPercent)
	assert.Equal(t, 55.0, *rec.Attributes.EquityPercent)
	assert.Equal(t, "2026-PR-1", rec.RawPayload["case"])
	th.assertExpectations(t)
}

func TestCycleHandler_PartnerSignalsRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
		code string
	}{
		{"no records", `{"partner":"acme","records":[]}`, apierrors.ErrValidation},
		{"no partner", `{"records":[{"county":"Harris","distress_type":"probate"}]}`, apierrors.ErrValidation},
		{"record missing type", `{"partner":"acme","records":[{"county":"Harris"}]}`, apierrors.ErrValidation},
		{"bad date", `{"partner":"acme","records":[{"county":"Harris","distress_type":"probate","observed_date":"last week"}]}`, apierrors.ErrBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			th := newTestHandlers()

			w := doRequest(th.router(), http.MethodPost, "/api/v1/sources/partner/signals", tt.body)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, decode[apierrors.ErrorResponse](t, w).Error.Code)
			th.cycles.AssertNotCalled(t, "RunBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCycleHandler_PartnerSignalsStoreDown(t *testing.T) {
	th := newTestHandlers()
	th.cycles.On("RunBatch", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: %v", services.ErrStoreUnavailable, errors.New("timeout")))

	w := doRequest(th.router(), http.MethodPost, "/api/v1/sources/partner/signals",
		`{"partner":"acme","records":[{"county":"Harris","distress_type":"probate","parcel_id":"R-1"}]}`)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
