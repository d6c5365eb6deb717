package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"txledger/internal/config"
	"txledger/internal/logger"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// HeaderRequestID carries the correlation id of one logical request across retries.
const HeaderRequestID = "X-Request-Id"

type requestCtxKey struct{}

type requestCtx struct {
	id       string
	start    time.Time
	attempts int
}

func requestFrom(ctx context.Context) *requestCtx {
	rc, _ := ctx.Value(requestCtxKey{}).(*requestCtx)
	return rc
}

// newRestClient creates a resty client from the backend config section, with
// request/response logging and optional retries on 429 and 5xx replies.
func newRestClient(cfg config.BackendConfig, log logger.Logger) *resty.Client {
	client := resty.New()

	url := strings.TrimSuffix(cfg.URL, "/")
	if url != "" {
		client.SetBaseURL(url)
		log.Debug("Created REST client", "url", url)
	}
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	for k, v := range cfg.Headers {
		client.SetHeader(k, v)
	}
	if cfg.Token != "" {
		client.SetAuthToken(cfg.Token)
	}

	client.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		rctx := req.Context()
		rc := requestFrom(rctx)
		if rc == nil {
			rc = &requestCtx{id: uuid.NewString(), start: time.Now()}
			req.SetContext(context.WithValue(rctx, requestCtxKey{}, rc))
		}
		req.SetHeader(HeaderRequestID, rc.id)
		log.Debug(fmt.Sprintf("==> %s %s%s", req.Method, url, req.URL), "request_id", rc.id)
		return nil
	})

	client.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		if resp == nil || resp.Request == nil {
			return nil
		}
		fields := []interface{}{"status", resp.StatusCode()}
		if rc := requestFrom(resp.Request.Context()); rc != nil {
			fields = append(fields, "request_id", rc.id, "elapsed", time.Since(rc.start).Round(time.Millisecond))
		}
		log.Debug(fmt.Sprintf("<== %s %s", resp.Request.Method, resp.Request.URL), fields...)
		return nil
	})

	if cfg.Retry.Enabled {
		client.
			SetRetryCount(cfg.Retry.Count).
			SetRetryWaitTime(cfg.Retry.WaitTime).
			SetRetryMaxWaitTime(cfg.Retry.MaxWaitTime).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if r == nil || r.IsSuccess() {
					return false
				}
				if r.StatusCode() != http.StatusTooManyRequests && r.StatusCode() < http.StatusInternalServerError {
					return false
				}
				if rc := requestFrom(r.Request.Context()); rc != nil {
					rc.attempts++
					log.Info("Retrying backend request", "request_id", rc.id, "attempt", rc.attempts,
						"max", cfg.Retry.Count, "status", r.StatusCode())
				}
				return true
			})
	}

	return client
}

// wrapRestErr builds an ErrBackendSync error from a failed call, keeping a
// bounded excerpt of the response body.
func wrapRestErr(op string, res *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrBackendSync, op, err)
	}
	body := ""
	status := 0
	if res != nil {
		body = res.String()
		status = res.StatusCode()
	}
	if len(body) > 256 {
		body = body[:256] + "..."
	}
	return fmt.Errorf("%w: %s: [%d] %s", ErrBackendSync, op, status, body)
}
