package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"txledger/internal/config"
	"txledger/internal/evm"
	"txledger/internal/logger"
	"txledger/internal/txstore"
	"txledger/internal/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testURL       = "http://backend.test/api"
	testPrincipal = "0x00000000000000000000000000000000000000aa"
)

func newTestClient(t *testing.T, cfg config.BackendConfig, signer MessageSigner) *Client {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = testURL + "/"
	}
	c := NewClient(cfg, strings.ToUpper(testPrincipal[:2])+testPrincipal[2:], signer, logger.NewNopLogger())
	httpmock.ActivateNonDefault(c.rest.GetClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func sampleRecord() txstore.Record {
	return txstore.Record{
		Identifier:  "0xabc",
		Principal:   testPrincipal,
		Category:    types.CategoryExperiment,
		Description: "run 4",
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Status:      types.TxStatusPending,
	}
}

func TestCreate(t *testing.T) {
	c := newTestClient(t, config.BackendConfig{Token: "s3cret", Headers: map[string]string{"X-Tenant": "lab"}}, nil)

	httpmock.RegisterResponder("POST", testURL+"/transactions",
		func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, testPrincipal, req.Header.Get(HeaderPrincipal))
			assert.Equal(t, "Bearer s3cret", req.Header.Get("Authorization"))
			assert.Equal(t, "lab", req.Header.Get("X-Tenant"))
			assert.NotEmpty(t, req.Header.Get(HeaderRequestID))
			assert.Empty(t, req.Header.Get(HeaderSignature))

			var body map[string]interface{}
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
			assert.Equal(t, "0xabc", body["identifier"])
			assert.Equal(t, "experiment", body["category"])
			assert.Equal(t, "2026-01-02T03:04:05Z", body["createdAt"])
			return httpmock.NewStringResponse(201, `{}`), nil
		})

	require.NoError(t, c.Create(context.Background(), sampleRecord()))
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestCreateDuplicateIsSuccess(t *testing.T) {
	c := newTestClient(t, config.BackendConfig{}, nil)
	httpmock.RegisterResponder("POST", testURL+"/transactions", httpmock.NewStringResponder(409, `{"message":"exists"}`))
	assert.NoError(t, c.Create(context.Background(), sampleRecord()))
}

func TestCreateRetriesThenFails(t *testing.T) {
	c := newTestClient(t, config.BackendConfig{Retry: config.HTTPRetryConfig{
		Enabled: true, Count: 2, WaitTime: time.Millisecond, MaxWaitTime: 2 * time.Millisecond,
	}}, nil)

	var ids []string
	httpmock.RegisterResponder("POST", testURL+"/transactions",
		func(req *http.Request) (*http.Response, error) {
			ids = append(ids, req.Header.Get(HeaderRequestID))
			return httpmock.NewStringResponse(503, `{"message":"pop"}`), nil
		})

	err := c.Create(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, ErrBackendSync)
	assert.Regexp(t, `\[503\].*pop`, err)
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
	require.Len(t, ids, 3)
	assert.Equal(t, ids[0], ids[2], "retries keep the request id")
}

func TestCreateNoRetryOnClientError(t *testing.T) {
	c := newTestClient(t, config.BackendConfig{Retry: config.HTTPRetryConfig{Enabled: true, Count: 3, WaitTime: time.Millisecond}}, nil)
	httpmock.RegisterResponder("POST", testURL+"/transactions", httpmock.NewStringResponder(400, `bad`))

	err := c.Create(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, ErrBackendSync)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestCreateTransportError(t *testing.T) {
	c := newTestClient(t, config.BackendConfig{}, nil)
	httpmock.RegisterResponder("POST", testURL+"/transactions", httpmock.NewErrorResponder(fmt.Errorf("connection refused")))

	err := c.Create(context.Background(), sampleRecord())
	assert.ErrorIs(t, err, ErrBackendSync)
	assert.Regexp(t, "connection refused", err)
}

func TestSignedRequests(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := evm.NewSigner(key)
	require.NoError(t, err)
	c := newTestClient(t, config.BackendConfig{}, signer)

	httpmock.RegisterResponder("DELETE", testURL+"/transactions",
		func(req *http.Request) (*http.Response, error) {
			sig, err := hexutil.Decode(req.Header.Get(HeaderSignature))
			require.NoError(t, err)
			msg := authMessage(req.Header.Get(HeaderPrincipal), req.Header.Get(HeaderTimestamp))
			addr, err := evm.RecoverPersonalSigner([]byte(msg), sig)
			require.NoError(t, err)
			assert.Equal(t, signer.Address(), addr)
			return httpmock.NewStringResponse(204, ``), nil
		})

	require.NoError(t, c.Clear(context.Background()))
}

type failingSigner struct{}

func (failingSigner) SignPersonalMessage(context.Context, []byte) ([]byte, error) {
	return nil, errors.New("locked")
}

func TestSignerFailure(t *testing.T) {
	c := newTestClient(t, config.BackendConfig{}, failingSigner{})
	err := c.Clear(context.Background())
	assert.ErrorIs(t, err, ErrBackendSync)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestPatch(t *testing.T) {
	c := newTestClient(t, config.BackendConfig{}, nil)
	r := sampleRecord()
	r.Status = types.TxStatusConfirmed
	r.ConfirmationData = &txstore.ConfirmationData{BlockNumber: 50, GasUsed: 21000}

	httpmock.RegisterResponder("PATCH", testURL+"/transactions/0xabc",
		func(req *http.Request) (*http.Response, error) {
			b, _ := io.ReadAll(req.Body)
			assert.JSONEq(t, `{"status":"confirmed","confirmationData":{"blockNumber":50,"gasUsed":21000}}`, string(b))
			return httpmock.NewStringResponse(200, `{}`), nil
		})
	require.NoError(t, c.Patch(context.Background(), r))

	httpmock.RegisterResponder("PATCH", testURL+"/transactions/0xabc", httpmock.NewStringResponder(404, `missing`))
	assert.ErrorIs(t, c.Patch(context.Background(), r), ErrBackendSync)
}

func TestClearNotFoundIsSuccess(t *testing.T) {
	c := newTestClient(t, config.BackendConfig{}, nil)
	httpmock.RegisterResponder("DELETE", testURL+"/transactions", httpmock.NewStringResponder(404, ``))
	assert.NoError(t, c.Clear(context.Background()))

	httpmock.RegisterResponder("DELETE", testURL+"/transactions", httpmock.NewStringResponder(500, ``))
	assert.ErrorIs(t, c.Clear(context.Background()), ErrBackendSync)
}

func TestListNormalizesAndFilters(t *testing.T) {
	c := newTestClient(t, config.BackendConfig{}, nil)
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	httpmock.RegisterResponder("GET", testURL+"/transactions",
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, "2", q.Get("page"))
			assert.Equal(t, "5", q.Get("limit"))
			assert.Equal(t, "confirmed", q.Get("status"))
			assert.Equal(t, "2026-01-01T00:00:00Z", q.Get("from"))
			assert.Empty(t, q.Get("to"))
			return httpmock.NewStringResponse(200, `{
				"records": [
					{"identifier":"0xAB1","category":"Experiment","createdAt":"2026-01-03T00:00:00Z","status":"CONFIRMED",
					 "confirmationData":{"blockNumber":100,"gasUsed":21000}},
					{"identifier":"0xab2","createdAt":"2026-01-03T00:00:00Z","status":"confirmed"},
					{"identifier":"0xab3","principal":"0xbb","createdAt":"2026-01-03T00:00:00Z","status":"pending"},
					{"identifier":"0xab4","principal":"0x00000000000000000000000000000000000000AA","createdAt":"2026-01-04T00:00:00+02:00","status":"pending","reason":"x"}
				],
				"total": 12, "page": 2, "limit": 5, "totalPages": 3}`), nil
		})

	page, err := c.List(context.Background(), ListFilter{Status: types.TxStatusConfirmed, From: from}, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 12, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.Skipped)
	require.Len(t, page.Records, 2)

	first := page.Records[0]
	assert.Equal(t, "0xab1", first.Identifier)
	assert.Equal(t, testPrincipal, first.Principal)
	assert.Equal(t, types.CategoryExperiment, first.Category)
	assert.Equal(t, uint64(100), first.ConfirmationData.BlockNumber)

	second := page.Records[1]
	assert.Equal(t, types.CategoryOther, second.Category)
	assert.Empty(t, second.Reason)
	assert.Equal(t, time.UTC, second.CreatedAt.Location())
	assert.Equal(t, 22, second.CreatedAt.Hour())
}

func TestListHTTPError(t *testing.T) {
	c := newTestClient(t, config.BackendConfig{}, nil)
	httpmock.RegisterResponder("GET", testURL+"/transactions", httpmock.NewStringResponder(502, strings.Repeat("x", 400)))

	_, err := c.List(context.Background(), ListFilter{}, 1, 10)
	assert.ErrorIs(t, err, ErrBackendSync)
	assert.Regexp(t, `\.\.\.$`, err)
}

func TestFetchAllWalksPages(t *testing.T) {
	c := newTestClient(t, config.BackendConfig{PageSize: 2}, nil)

	httpmock.RegisterResponder("GET", testURL+"/transactions",
		func(req *http.Request) (*http.Response, error) {
			page := req.URL.Query().Get("page")
			assert.Equal(t, "2", req.URL.Query().Get("limit"))
			records := []map[string]interface{}{
				{"identifier": "0xp" + page + "a", "createdAt": "2026-01-01T00:00:00Z", "status": "pending"},
			}
			return httpmock.NewJsonResponse(200, map[string]interface{}{
				"records": records, "total": 3, "page": 1, "limit": 2, "totalPages": 3,
			})
		})

	all, err := c.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "0xp3a", all[2].Identifier)
	assert.Equal(t, 3, httpmock.GetTotalCallCount())
}

func TestNormalizeRecord(t *testing.T) {
	block := uint64(9)
	cases := []struct {
		name string
		in   wireRecord
		err  string
	}{
		{"missing identifier", wireRecord{Status: "pending", CreatedAt: "2026-01-01T00:00:00Z"}, "missing identifier"},
		{"bad status", wireRecord{Identifier: "0x1", Status: "done", CreatedAt: "2026-01-01T00:00:00Z"}, "unknown transaction status"},
		{"bad category", wireRecord{Identifier: "0x1", Status: "pending", Category: "misc", CreatedAt: "2026-01-01T00:00:00Z"}, "unknown transaction category"},
		{"bad time", wireRecord{Identifier: "0x1", Status: "pending", CreatedAt: "yesterday"}, "createdAt"},
		{"confirmed no data", wireRecord{Identifier: "0x1", Status: "confirmed", CreatedAt: "2026-01-01T00:00:00Z"}, "without confirmationData"},
		{"data no block", wireRecord{Identifier: "0x1", Status: "failed", CreatedAt: "2026-01-01T00:00:00Z", ConfirmationData: &wireConfirmation{}}, "without blockNumber"},
		{"failed ok", wireRecord{Identifier: "0x1", Status: "failed", Reason: "reverted", CreatedAt: "2026-01-01T00:00:00Z", ConfirmationData: &wireConfirmation{BlockNumber: &block}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := normalizeRecord(tc.in)
			if tc.err != "" {
				assert.ErrorIs(t, err, ErrMalformedRecord)
				assert.Regexp(t, tc.err, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "reverted", r.Reason)
			assert.Equal(t, uint64(9), r.ConfirmationData.BlockNumber)
		})
	}
}
