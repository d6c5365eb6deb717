package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"txledger/internal/app"
	"txledger/internal/ledger"
	"txledger/internal/query"
	"txledger/internal/reconcile"
	"txledger/internal/txstore"
	"txledger/internal/types"
	"txledger/internal/utils"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
)

type errorResponse struct {
	Error string `json:"error"`
}

// submitBody is the JSON body of POST /transactions. Value is a decimal
// Ether amount.
type submitBody struct {
	To              string `json:"to"`
	Value           string `json:"value,omitempty"`
	Data            string `json:"data,omitempty"`
	GasLimit        uint64 `json:"gasLimit,omitempty"`
	Category        string `json:"category"`
	Description     string `json:"description"`
	RelatedEntityID string `json:"relatedEntityId,omitempty"`
}

type syncResponse struct {
	Pulled    []string           `json:"pulled"`
	Uploaded  []string           `json:"uploaded"`
	Patched   []string           `json:"patched"`
	Settled   []string           `json:"settled"`
	Deferred  []string           `json:"deferred"`
	Failed    []string           `json:"failed"`
	Conflicts []txstore.Conflict `json:"conflicts"`
}

type statusResponse struct {
	Principal string        `json:"principal"`
	Summary   query.Summary `json:"summary"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	page := intParam(r, "page", 1)
	limit := intParam(r, "limit", 0)
	writeJSON(w, http.StatusOK, s.svc.Query(filter, page, limit))
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.svc.Summary(filter))
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Principal: s.svc.Principal(), Summary: s.svc.Summary(query.Filter{})})
}

func (s *Server) getTransaction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rec, ok := s.svc.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("transaction %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) submitTransaction(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("%w: %w", app.ErrInvalidSubmission, err))
		return
	}
	req, err := body.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := s.svc.Submit(r.Context(), req)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, rec)
	case errors.Is(err, app.ErrInvalidSubmission):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, ledger.ErrUserRejected):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, ledger.ErrSubmissionFailed):
		writeError(w, http.StatusBadGateway, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) clearTransactions(w http.ResponseWriter, r *http.Request) {
	err := s.svc.Clear(r.Context())
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, reconcile.ErrClearPending):
		// Local records are gone; the backend delete is retried by reconciliation.
		writeError(w, http.StatusAccepted, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	report, err := s.svc.Sync(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, syncResponse{
		Pulled:    report.Pulled,
		Uploaded:  report.Uploaded,
		Patched:   report.Patched,
		Settled:   report.Settled,
		Deferred:  report.Deferred,
		Failed:    report.Failed,
		Conflicts: report.Conflicts,
	})
}

func (b submitBody) toRequest() (app.SubmitRequest, error) {
	if !common.IsHexAddress(b.To) {
		return app.SubmitRequest{}, fmt.Errorf("%w: invalid recipient %q", app.ErrInvalidSubmission, b.To)
	}
	op := ledger.Operation{To: common.HexToAddress(b.To), GasLimit: b.GasLimit}
	if b.Value != "" {
		v, err := utils.ToWei(b.Value)
		if err != nil {
			return app.SubmitRequest{}, fmt.Errorf("%w: %w", app.ErrInvalidSubmission, err)
		}
		op.Value = v
	}
	if b.Data != "" {
		data, err := hexutil.Decode(b.Data)
		if err != nil {
			return app.SubmitRequest{}, fmt.Errorf("%w: data: %w", app.ErrInvalidSubmission, err)
		}
		op.Data = data
	}
	return app.SubmitRequest{
		Operation:       op,
		Category:        types.Category(b.Category),
		Description:     b.Description,
		RelatedEntityID: b.RelatedEntityID,
	}, nil
}

func parseFilter(r *http.Request) (query.Filter, error) {
	q := r.URL.Query()
	return query.ParseFilter(q.Get("category"), q.Get("status"), q.Get("from"), q.Get("to"), q.Get("q"))
}

func intParam(r *http.Request, name string, fallback int) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return fallback
	}
	return n
}
