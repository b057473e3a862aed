// Package postgrest is a gateway.Transport for a PostgREST endpoint exposing
// the bills table and the get_bills_summary function.
package postgrest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bollette/internal/core"
	"bollette/internal/gateway"
	"bollette/internal/log"
	"bollette/internal/trace"
)

const (
	table      = "bills"
	orderParam = "payment_date.desc,billing_year.desc,billing_month.desc,id.asc"

	mediaObject = "application/vnd.pgrst.object+json"
)

// DefaultSummaryRPC is the server function used for the fast summary path.
const DefaultSummaryRPC = "get_bills_summary"

type Config struct {
	BaseURL    string
	APIKey     string
	SummaryRPC string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Sessions supplies the bearer token of the signed-in user.
type Sessions interface {
	Current(ctx context.Context) (*core.Session, error)
}

type Client struct {
	http     *http.Client
	base     *url.URL
	apiKey   string
	rpc      string
	sessions Sessions
	logger   *log.Logger
}

func New(cfg Config, sessions Sessions, logger *log.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse postgrest url %q: invalid", cfg.BaseURL)
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentPostgREST)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout, Transport: trace.NewTransport(nil, logger)}
	}
	rpc := cfg.SummaryRPC
	if rpc == "" {
		rpc = DefaultSummaryRPC
	}
	return &Client{
		http:     httpClient,
		base:     base,
		apiKey:   cfg.APIKey,
		rpc:      rpc,
		sessions: sessions,
		logger:   logger,
	}, nil
}

// filterParams renders the filter as PostgREST horizontal filters.
func filterParams(f core.FilterSpec) url.Values {
	v := url.Values{}
	if f.Category != "" {
		v.Set("bill_type", "eq."+f.Category)
	}
	if f.BillingMonth != 0 {
		v.Set("billing_month", fmt.Sprintf("eq.%d", f.BillingMonth))
	}
	if f.BillingYear != 0 {
		v.Set("billing_year", fmt.Sprintf("eq.%d", f.BillingYear))
	}
	if !f.DateFrom.IsZero() {
		v.Add("payment_date", "gte."+f.DateFrom.String())
	}
	if !f.DateTo.IsZero() {
		v.Add("payment_date", "lte."+f.DateTo.String())
	}
	if f.AmountMin != nil {
		v.Add("amount", "gte."+f.AmountMin.String())
	}
	if f.AmountMax != nil {
		v.Add("amount", "lte."+f.AmountMax.String())
	}
	return v
}

func (c *Client) Select(ctx context.Context, q gateway.Query) (gateway.Result, error) {
	params := filterParams(q.Filter)
	method := http.MethodGet
	header := http.Header{}

	if q.WithCount || q.CountOnly {
		header.Set("Prefer", "count=exact")
	}
	if q.CountOnly {
		method = http.MethodHead
		params.Set("select", "id")
	} else {
		if q.AmountsOnly {
			params.Set("select", "amount")
		} else {
			params.Set("select", "*")
		}
		params.Set("order", orderParam)
		if q.Offset > 0 {
			params.Set("offset", fmt.Sprint(q.Offset))
		}
		if q.Limit > 0 {
			params.Set("limit", fmt.Sprint(q.Limit))
		}
	}

	resp, err := c.do(ctx, method, table, params, header, nil)
	if err != nil {
		return gateway.Result{}, fmt.Errorf("select bills: %w", err)
	}
	defer resp.Body.Close()

	var res gateway.Result
	if q.WithCount || q.CountOnly {
		total, ok := parseContentRange(resp.Header.Get("Content-Range"))
		if !ok {
			return gateway.Result{}, fmt.Errorf("select bills: missing total in Content-Range %q", resp.Header.Get("Content-Range"))
		}
		res.Count = &total
	}
	if q.CountOnly {
		return res, nil
	}

	var rows []billRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return gateway.Result{}, fmt.Errorf("decode bills: %w", err)
	}
	res.Rows = make([]core.Bill, 0, len(rows))
	for _, row := range rows {
		if q.AmountsOnly {
			m, err := core.MoneyFromDecimal(row.Amount)
			if err != nil {
				return gateway.Result{}, fmt.Errorf("decode amount: %w", err)
			}
			res.Rows = append(res.Rows, core.Bill{Amount: m})
			continue
		}
		b, err := row.bill()
		if err != nil {
			return gateway.Result{}, fmt.Errorf("decode bills: %w", err)
		}
		res.Rows = append(res.Rows, b)
	}
	return res, nil
}

func (c *Client) Get(ctx context.Context, id string) (core.Bill, error) {
	params := url.Values{"select": {"*"}, "id": {"eq." + id}}
	header := http.Header{"Accept": {mediaObject}}
	return c.one(ctx, http.MethodGet, params, header, nil, "get bill")
}

func (c *Client) Insert(ctx context.Context, in core.BillInput) (core.Bill, error) {
	header := http.Header{"Accept": {mediaObject}, "Prefer": {"return=representation"}}
	return c.one(ctx, http.MethodPost, url.Values{"select": {"*"}}, header, rowFromInput(in), "insert bill")
}

func (c *Client) Update(ctx context.Context, id string, patch core.BillPatch) (core.Bill, error) {
	params := url.Values{"select": {"*"}, "id": {"eq." + id}}
	header := http.Header{"Accept": {mediaObject}, "Prefer": {"return=representation"}}
	return c.one(ctx, http.MethodPatch, params, header, patchBody(patch), "update bill")
}

func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.do(ctx, http.MethodDelete, table, url.Values{"id": {"eq." + id}}, nil, nil)
	if err != nil {
		return fmt.Errorf("delete bill %s: %w", id, err)
	}
	resp.Body.Close()
	return nil
}

func (c *Client) Sum(ctx context.Context, f core.FilterSpec) (core.Money, error) {
	params := filterParams(f)
	params.Set("select", "sum:amount.sum()")
	resp, err := c.do(ctx, http.MethodGet, table, params, http.Header{"Accept": {mediaObject}}, nil)
	if err != nil {
		return core.Money{}, fmt.Errorf("sum bills: %w", err)
	}
	defer resp.Body.Close()

	var out struct {
		Sum *json.Number `json:"sum"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return core.Money{}, fmt.Errorf("decode sum: %w", err)
	}
	if out.Sum == nil {
		return core.Money{}, nil
	}
	m, err := core.ParseMoney(out.Sum.String())
	if err != nil {
		return core.Money{}, fmt.Errorf("decode sum %s: %w", out.Sum, err)
	}
	return m, nil
}

func (c *Client) Summarize(ctx context.Context, f core.FilterSpec) (core.Summary, error) {
	body := map[string]any{"filters": newRPCFilters(f)}
	resp, err := c.do(ctx, http.MethodPost, "rpc/"+c.rpc, nil, nil, body)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return core.Summary{}, fmt.Errorf("summarize bills: %w", core.ErrAggregationUnsupported)
		}
		return core.Summary{}, fmt.Errorf("summarize bills: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.Summary{}, fmt.Errorf("read summary: %w", err)
	}
	return decodeSummary(data)
}

func (c *Client) one(ctx context.Context, method string, params url.Values, header http.Header, body any, op string) (core.Bill, error) {
	resp, err := c.do(ctx, method, table, params, header, body)
	if err != nil {
		return core.Bill{}, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	var row billRow
	if err := json.NewDecoder(resp.Body).Decode(&row); err != nil {
		return core.Bill{}, fmt.Errorf("%s: decode: %w", op, err)
	}
	return row.bill()
}

// do sends the request and returns the response when the status is 2xx.
// Error responses are decoded and mapped onto the core taxonomy.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, header http.Header, body any) (*http.Response, error) {
	u := c.base.JoinPath(path)
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if token := c.token(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	} else if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, err
		}
		return nil, &core.TransientError{Op: method + " " + path, Err: err}
	}

	c.logger.DebugContext(ctx, "PostgREST request",
		"method", method, "path", path, "status", resp.StatusCode,
		log.FieldDuration, time.Since(start).Milliseconds())

	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return resp, nil
}

func (c *Client) token(ctx context.Context) string {
	if c.sessions == nil {
		return ""
	}
	s, err := c.sessions.Current(ctx)
	if err != nil || s == nil {
		return ""
	}
	return s.AccessToken
}
