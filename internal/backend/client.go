package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"txledger/internal/config"
	"txledger/internal/logger"
	"txledger/internal/txstore"
	"txledger/internal/types"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
)

var (
	// ErrBackendSync indicates a network or HTTP failure talking to the backend.
	ErrBackendSync = errors.New("backend sync failed")
	// ErrMalformedRecord indicates a backend record that fails normalization.
	ErrMalformedRecord = errors.New("malformed backend record")
)

// Headers identifying the principal a request acts for.
const (
	HeaderPrincipal = "X-Txledger-Principal"
	HeaderTimestamp = "X-Txledger-Timestamp"
	HeaderSignature = "X-Txledger-Signature"
)

const maxPages = 1000

// MessageSigner proves ownership of the principal with a personal_sign signature.
type MessageSigner interface {
	SignPersonalMessage(ctx context.Context, message []byte) ([]byte, error)
}

// ListFilter narrows a backend listing. Zero values mean no constraint.
type ListFilter struct {
	Category types.Category
	Status   types.TxStatus
	From     time.Time
	To       time.Time
}

// Page is one page of normalized backend records.
type Page struct {
	Records    []txstore.Record
	Total      int
	Page       int
	Limit      int
	TotalPages int
	// Skipped counts records dropped by normalization.
	Skipped int
}

// Client talks to the authoritative backend store for one principal.
type Client struct {
	rest      *resty.Client
	principal string
	pageSize  int
	signer    MessageSigner
	log       logger.Logger
}

// NewClient creates a backend client scoped to principal. signer may be nil.
func NewClient(cfg config.BackendConfig, principal string, signer MessageSigner, log logger.Logger) *Client {
	if log == nil {
		log = logger.NewNopLogger()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		rest:      newRestClient(cfg, log),
		principal: txstore.NormalizePrincipal(principal),
		pageSize:  pageSize,
		signer:    signer,
		log:       log,
	}
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	req := c.rest.R().SetContext(ctx).SetHeader(HeaderPrincipal, c.principal)
	if c.signer == nil {
		return req, nil
	}
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	sig, err := c.signer.SignPersonalMessage(ctx, []byte(authMessage(c.principal, ts)))
	if err != nil {
		return nil, fmt.Errorf("%w: signing request: %w", ErrBackendSync, err)
	}
	return req.SetHeader(HeaderTimestamp, ts).SetHeader(HeaderSignature, hexutil.Encode(sig)), nil
}

// authMessage is the text signed to authenticate a request.
func authMessage(principal, timestamp string) string {
	return "txledger:auth:" + principal + ":" + timestamp
}

// Create uploads one record. The backend treats it as idempotent on the
// identifier, so a 409 reply counts as success.
func (c *Client) Create(ctx context.Context, r txstore.Record) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	res, err := req.SetBody(r).Post("/transactions")
	if err == nil && (res.IsSuccess() || res.StatusCode() == http.StatusConflict) {
		return nil
	}
	return wrapRestErr("create "+r.Identifier, res, err)
}

// Patch pushes the settlement fields of r to the backend copy.
func (c *Client) Patch(ctx context.Context, r txstore.Record) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	res, err := req.
		SetPathParam("identifier", r.Identifier).
		SetBody(patchBody{Status: r.Status, Reason: r.Reason, ConfirmationData: r.ConfirmationData}).
		Patch("/transactions/{identifier}")
	if err == nil && res.IsSuccess() {
		return nil
	}
	return wrapRestErr("patch "+r.Identifier, res, err)
}

// Clear deletes every backend record of the principal.
func (c *Client) Clear(ctx context.Context) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	res, err := req.Delete("/transactions")
	if err == nil && (res.IsSuccess() || res.StatusCode() == http.StatusNotFound) {
		return nil
	}
	return wrapRestErr("clear", res, err)
}

// List fetches one page. Records that fail normalization are logged and
// skipped; records of another principal are skipped too.
func (c *Client) List(ctx context.Context, filter ListFilter, page, limit int) (Page, error) {
	req, err := c.request(ctx)
	if err != nil {
		return Page{}, err
	}
	params := map[string]string{
		"page":  strconv.Itoa(page),
		"limit": strconv.Itoa(limit),
	}
	if filter.Category != "" {
		params["category"] = string(filter.Category)
	}
	if filter.Status != "" {
		params["status"] = string(filter.Status)
	}
	if !filter.From.IsZero() {
		params["from"] = filter.From.UTC().Format(time.RFC3339)
	}
	if !filter.To.IsZero() {
		params["to"] = filter.To.UTC().Format(time.RFC3339)
	}

	var body wirePage
	res, err := req.SetQueryParams(params).SetResult(&body).ForceContentType("application/json").Get("/transactions")
	if err != nil || !res.IsSuccess() {
		return Page{}, wrapRestErr("list", res, err)
	}

	out := Page{Total: body.Total, Page: body.Page, Limit: body.Limit, TotalPages: body.TotalPages}
	for _, w := range body.Records {
		r, err := normalizeRecord(w)
		if err == nil && r.Principal != "" && r.Principal != c.principal {
			err = fmt.Errorf("%w: %s belongs to %s", ErrMalformedRecord, r.Identifier, r.Principal)
		}
		if err != nil {
			c.log.Warn("Skipping backend record", "error", err)
			out.Skipped++
			continue
		}
		r.Principal = c.principal
		out.Records = append(out.Records, r)
	}
	return out, nil
}

// FetchAll walks every page of the principal's records.
func (c *Client) FetchAll(ctx context.Context) ([]txstore.Record, error) {
	var all []txstore.Record
	for page := 1; page <= maxPages; page++ {
		p, err := c.List(ctx, ListFilter{}, page, c.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, p.Records...)
		if page >= p.TotalPages || len(p.Records)+p.Skipped == 0 {
			break
		}
	}
	c.log.Debug("Fetched backend records", "count", len(all))
	return all, nil
}
