// Package apiclient calls the downstream chat API on behalf of a signed-in
// session, attaching the session's access token to every request.
package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/raine/reellytics-gateway/internal/auth"
)

const defaultTimeout = 60 * time.Second

// UpstreamError is returned when the chat API answers with a non-2xx status.
type UpstreamError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("request failed: %s %s (status: %d)", e.Method, e.Path, e.Status)
}

// NetworkError is returned when the chat API could not be reached.
type NetworkError struct {
	Method string
	Path   string
	Err    error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("request failed: %s %s: %v", e.Method, e.Path, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

type ClientOpts struct {
	BaseURL string
	Scheme  auth.AuthScheme
	Timeout time.Duration
}

type Client struct {
	httpClient *resty.Client
	scheme     auth.AuthScheme
}

func NewClient(opts ClientOpts) *Client {
	c := Client{scheme: opts.Scheme}
	if c.scheme == "" {
		c.scheme = auth.SchemeBearer
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.httpClient = resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(timeout).
		SetHeaders(map[string]string{
			"Accept":       "application/json",
			"Content-Type": "application/json",
		})

	return &c
}

// Request describes one call to the chat API. Body is encoded as JSON when
// non-nil; a 2xx response body is decoded into Result when non-nil.
type Request struct {
	Method string
	Path   string
	Body   any
	Result any
}

// Do performs req with the access token of ts. It does not refresh or retry:
// a nil or unusable set fails with auth.ErrUnauthenticated before any network
// activity.
func (c *Client) Do(ctx context.Context, ts *auth.TokenSet, req Request) error {
	if !ts.Usable() {
		return auth.ErrUnauthenticated
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	r := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Authorization", c.scheme.HeaderValue(ts.AccessToken))
	if req.Body != nil {
		r.SetBody(req.Body)
	}
	if req.Result != nil {
		r.SetResult(req.Result)
	}

	start := time.Now()
	res, err := r.Execute(method, req.Path)
	if err != nil {
		log.Error().Err(err).Str("method", method).Str("path", req.Path).Msg("chat api unreachable")
		return &NetworkError{Method: method, Path: req.Path, Err: err}
	}

	log.Debug().
		Str("method", method).
		Str("path", req.Path).
		Int("status", res.StatusCode()).
		Dur("took", time.Since(start)).
		Msg("chat api call")

	if !res.IsSuccess() {
		return &UpstreamError{Method: method, Path: req.Path, Status: res.StatusCode(), Body: res.String()}
	}
	return nil
}

func (c *Client) Chat(ctx context.Context, ts *auth.TokenSet, body ChatRequest) (*ChatResponse, error) {
	result := &ChatResponse{}
	err := c.Do(ctx, ts, Request{Method: http.MethodPost, Path: "/chat", Body: body, Result: result})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) Analyze(ctx context.Context, ts *auth.TokenSet, body AnalyzeRequest) (*AnalyzeResponse, error) {
	result := &AnalyzeResponse{}
	err := c.Do(ctx, ts, Request{Method: http.MethodPost, Path: "/analyze", Body: body, Result: result})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) History(ctx context.Context, ts *auth.TokenSet) (*HistoryResponse, error) {
	result := &HistoryResponse{}
	err := c.Do(ctx, ts, Request{Method: http.MethodGet, Path: "/history", Result: result})
	if err != nil {
		return nil, err
	}
	return result, nil
}
