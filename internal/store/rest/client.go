// Package rest implements the store ports against the remote REST service:
//
//	GET    /expenses       -> []Expense
//	POST   /expenses       -> Expense (id assigned by the store)
//	PATCH  /expenses/{id}  -> Expense (full updated object)
//	DELETE /expenses/{id}
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/store"
)

const maxBodyBytes = 8 << 20

type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *log.Logger
}

// New returns a client for the store rooted at baseURL. A zero timeout
// leaves requests bounded only by their context.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("store url %q: scheme must be http or https", baseURL)
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		logger:  log.Discard(),
	}, nil
}

// WithHTTPClient swaps the underlying HTTP client, e.g. for a custom
// transport. The client's own Timeout then applies.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.http = hc
	return c
}

// WithLogger sets the logger for request outcomes.
func (c *Client) WithLogger(l *log.Logger) *Client {
	if l != nil {
		c.logger = l.WithComponent(log.ComponentStore)
	}
	return c
}

func (c *Client) List(ctx context.Context) ([]core.Expense, error) {
	var out []core.Expense
	if err := c.do(ctx, "list expenses", http.MethodGet, c.endpoint(""), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, e core.Expense) (core.Expense, error) {
	e.ID = ""
	var out core.Expense
	if err := c.do(ctx, "create expense", http.MethodPost, c.endpoint(""), e, &out); err != nil {
		return core.Expense{}, err
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, id core.ExpenseID, fields map[string]any) (core.Expense, error) {
	var out core.Expense
	if err := c.do(ctx, "update expense", http.MethodPatch, c.endpoint(id), fields, &out); err != nil {
		return core.Expense{}, err
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, id core.ExpenseID) error {
	return c.do(ctx, "delete expense", http.MethodDelete, c.endpoint(id), nil, nil)
}

func (c *Client) endpoint(id core.ExpenseID) string {
	u := *c.baseURL
	base := u.EscapedPath()
	u.Path += "/expenses"
	u.RawPath = base + "/expenses"
	if id != "" {
		u.Path += "/" + string(id)
		u.RawPath += "/" + url.PathEscape(string(id))
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Store request failed",
			log.NewFields().WithOperation(op).WithError(err, log.ErrorTypeNetwork).ToSlice()...)
		return &core.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "Store request completed",
		log.FieldOperation, op,
		log.FieldMethod, method,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return &core.NetworkError{Op: op, Err: &store.StatusError{Op: op, StatusCode: resp.StatusCode}}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return &core.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
