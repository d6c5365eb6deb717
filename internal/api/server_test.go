package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"txledger/internal/app"
	"txledger/internal/config"
	"txledger/internal/ledger"
	"txledger/internal/query"
	"txledger/internal/reconcile"
	"txledger/internal/storage/memory"
	"txledger/internal/txstore"
	"txledger/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const principal = "0x00000000000000000000000000000000000000aa"

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeService struct {
	store     *txstore.Store
	view      *query.View
	submitErr error
	submitted []app.SubmitRequest
	syncErr   error
	clearErr  error
	report    reconcile.Report
}

func newFakeService(t *testing.T, records ...txstore.Record) *fakeService {
	t.Helper()
	s, err := txstore.New(context.Background(), txstore.Options{Principal: principal, State: memory.NewStore()})
	require.NoError(t, err)
	for _, r := range records {
		require.NoError(t, s.Upsert(r))
	}
	return &fakeService{store: s, view: query.NewView(s, 10)}
}

func (f *fakeService) Submit(_ context.Context, req app.SubmitRequest) (txstore.Record, error) {
	f.submitted = append(f.submitted, req)
	if f.submitErr != nil {
		return txstore.Record{}, f.submitErr
	}
	r := txstore.Record{
		Identifier:      fmt.Sprintf("0x%02d", len(f.submitted)),
		Category:        req.Category,
		Description:     req.Description,
		RelatedEntityID: req.RelatedEntityID,
		CreatedAt:       t0,
	}
	if err := f.store.Upsert(r); err != nil {
		return txstore.Record{}, err
	}
	got, _ := f.store.Get(r.Identifier)
	return got, nil
}

func (f *fakeService) Query(filter query.Filter, page, limit int) query.Page {
	return f.view.Query(filter, page, limit)
}

func (f *fakeService) Summary(filter query.Filter) query.Summary {
	return f.view.Summarize(filter)
}

func (f *fakeService) Get(id string) (txstore.Record, bool) { return f.store.Get(id) }

func (f *fakeService) Sync(context.Context) (reconcile.Report, error) { return f.report, f.syncErr }

func (f *fakeService) Clear(context.Context) error {
	f.store.Clear()
	return f.clearErr
}

func (f *fakeService) Principal() string { return principal }

func record(id string, hour int, category types.Category, status types.TxStatus, entity string) txstore.Record {
	r := txstore.Record{
		Identifier:      id,
		Category:        category,
		CreatedAt:       t0.Add(time.Duration(hour) * time.Hour),
		Status:          status,
		RelatedEntityID: entity,
	}
	if status == types.TxStatusConfirmed {
		r.ConfirmationData = &txstore.ConfirmationData{BlockNumber: 10, GasUsed: 21000}
	}
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestListTransactions_Filters(t *testing.T) {
	svc := newFakeService(t,
		record("0x1", 0, types.CategorySampleRegistration, types.TxStatusConfirmed, "SAMPLE-001"),
		record("0x2", 1, types.CategoryAccessGrant, types.TxStatusPending, "grant-7"),
		record("0x3", 2, types.CategorySampleRegistration, types.TxStatusPending, "sample-002"),
	)
	h := NewServer(config.APIConfig{}, svc, nil).Handler()

	w := do(t, h, http.MethodGet, "/api/v1/transactions?category=sample-registration&q=SAMPLE", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page query.Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, "0x3", page.Records[0].Identifier)

	w = do(t, h, http.MethodGet, "/api/v1/transactions?status=pending&limit=1&page=5", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Page, "out of range page is clamped")
	assert.Equal(t, 2, page.TotalPages)
	assert.Equal(t, "0x2", page.Records[0].Identifier)

	w = do(t, h, http.MethodGet, "/api/v1/transactions?from=2026-03-10T13:00:00Z&to=2026-03-10", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Total, "bare date upper bound covers the whole day")

	w = do(t, h, http.MethodGet, "/api/v1/transactions?status=done", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(t, h, http.MethodGet, "/api/v1/transactions?from=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListTransactions_EmptyIsPageOneOfZero(t *testing.T) {
	h := NewServer(config.APIConfig{}, newFakeService(t), nil).Handler()
	w := do(t, h, http.MethodGet, "/api/v1/transactions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"records":[],"total":0,"page":1,"limit":10,"totalPages":0}`, w.Body.String())
}

func TestListTransactions_HugeLimit(t *testing.T) {
	svc := newFakeService(t, record("0x1", 0, types.CategoryOther, types.TxStatusPending, ""))
	h := NewServer(config.APIConfig{}, svc, nil).Handler()

	w := do(t, h, http.MethodGet, "/api/v1/transactions?limit=9223372036854775807&page=9223372036854775807", "")
	require.Equal(t, http.StatusOK, w.Code)
	var page query.Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Len(t, page.Records, 1)
	assert.Equal(t, 1, page.TotalPages)
}

func TestGetTransaction(t *testing.T) {
	svc := newFakeService(t, record("0xabc", 0, types.CategoryExperiment, types.TxStatusConfirmed, ""))
	h := NewServer(config.APIConfig{}, svc, nil).Handler()

	w := do(t, h, http.MethodGet, "/api/v1/transactions/0xABC", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec txstore.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, types.TxStatusConfirmed, rec.Status)
	assert.Equal(t, uint64(10), rec.ConfirmationData.BlockNumber)
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))

	w = do(t, h, http.MethodGet, "/api/v1/transactions/0xmissing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSummaryAndStatus(t *testing.T) {
	svc := newFakeService(t,
		record("0x1", 0, types.CategoryExperiment, types.TxStatusConfirmed, ""),
		record("0x2", 1, types.CategoryExperiment, types.TxStatusPending, ""),
	)
	h := NewServer(config.APIConfig{}, svc, nil).Handler()

	w := do(t, h, http.MethodGet, "/api/v1/transactions/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"total":2,"pending":1,"confirmed":1,"failed":0}`, w.Body.String())

	w = do(t, h, http.MethodGet, "/api/v1/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), principal)
}

func TestSubmitTransaction(t *testing.T) {
	svc := newFakeService(t)
	h := NewServer(config.APIConfig{}, svc, nil).Handler()

	body := `{"to":"0x00000000000000000000000000000000000000b0","value":"0.5","data":"0x01ff",
		"category":"sample-registration","description":"register","relatedEntityId":"S-9"}`
	w := do(t, h, http.MethodPost, "/api/v1/transactions", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var rec txstore.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, types.TxStatusPending, rec.Status)
	assert.Equal(t, "S-9", rec.RelatedEntityID)

	require.Len(t, svc.submitted, 1)
	op := svc.submitted[0].Operation
	assert.Equal(t, "500000000000000000", op.Value.String())
	assert.Equal(t, []byte{0x01, 0xff}, op.Data)
}

func TestSubmitTransaction_Errors(t *testing.T) {
	svc := newFakeService(t)
	h := NewServer(config.APIConfig{}, svc, nil).Handler()
	valid := `{"to":"0x00000000000000000000000000000000000000b0","category":"other"}`

	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "bad json", body: `{`, status: http.StatusBadRequest},
		{name: "bad recipient", body: `{"to":"nobody"}`, status: http.StatusBadRequest},
		{name: "negative value", body: `{"to":"0x00000000000000000000000000000000000000b0","value":"-1"}`, status: http.StatusBadRequest},
		{name: "bad data", body: `{"to":"0x00000000000000000000000000000000000000b0","data":"zz"}`, status: http.StatusBadRequest},
		{name: "invalid category", body: valid, err: fmt.Errorf("%w: category", app.ErrInvalidSubmission), status: http.StatusBadRequest},
		{name: "user rejected", body: valid, err: ledger.ErrUserRejected, status: http.StatusForbidden},
		{name: "submission failed", body: valid, err: fmt.Errorf("send: %w", ledger.ErrSubmissionFailed), status: http.StatusBadGateway},
		{name: "store failure", body: valid, err: errors.New("disk full"), status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc.submitErr = tc.err
			w := do(t, h, http.MethodPost, "/api/v1/transactions", tc.body)
			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), `"error"`)
		})
	}
	assert.Equal(t, 0, svc.store.Len())
}

func TestClearTransactions(t *testing.T) {
	svc := newFakeService(t, record("0x1", 0, types.CategoryOther, types.TxStatusPending, ""))
	h := NewServer(config.APIConfig{}, svc, nil).Handler()

	w := do(t, h, http.MethodDelete, "/api/v1/transactions", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, svc.store.Len())

	svc.clearErr = fmt.Errorf("%w: offline", reconcile.ErrClearPending)
	w = do(t, h, http.MethodDelete, "/api/v1/transactions", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestSync(t *testing.T) {
	svc := newFakeService(t)
	svc.report.Pulled = []string{"0x9"}
	svc.report.Conflicts = []txstore.Conflict{{Identifier: "0x5", LocalStatus: types.TxStatusFailed, RemoteStatus: types.TxStatusConfirmed}}
	h := NewServer(config.APIConfig{}, svc, nil).Handler()

	w := do(t, h, http.MethodPost, "/api/v1/sync", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"pulled":["0x9"]`)
	assert.Contains(t, w.Body.String(), `"localStatus":"failed"`)

	svc.syncErr = errors.New("backend down")
	w = do(t, h, http.MethodPost, "/api/v1/sync", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestCORS(t *testing.T) {
	h := NewServer(config.APIConfig{CORSOrigins: []string{"http://localhost:3000"}}, newFakeService(t), nil).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/transactions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestListenAndServe_StopsOnCancel(t *testing.T) {
	srv := NewServer(config.APIConfig{Listen: "127.0.0.1:0"}, newFakeService(t), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
