// Package rest talks to the market data backend's JSON endpoints.
package rest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"marketsync/internal/api"
	"marketsync/internal/types"
)

// ErrUpstream is returned when the backend answers with an `{error}` payload
// or a response that carries no usable data.
var ErrUpstream = errors.New("upstream error")

type Paths struct {
	History string
	Latest  string
	OHLC    string
}

func DefaultPaths() Paths {
	return Paths{History: "/history", Latest: "/latest", OHLC: "/ohlc"}
}

type Client struct {
	http  *api.Client
	paths Paths
	retry *api.RetryConfig
}

type Option func(*Client)

func WithPaths(p Paths) Option {
	return func(c *Client) { c.paths = p }
}

// WithRetry retries transport failures and 5xx responses for history and
// latest requests. OHLC polls are never retried; the next poll is the retry.
func WithRetry(cfg *api.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

func New(httpClient *api.Client, opts ...Option) *Client {
	c := &Client{http: httpClient, paths: DefaultPaths()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) get(ctx context.Context, path string, q url.Values, retry bool) (*api.Response, error) {
	var (
		resp *api.Response
		err  error
	)
	if retry && c.retry != nil {
		resp, err = c.http.GETWithRetry(ctx, path, q, c.retry)
	} else {
		resp, err = c.http.GET(ctx, path, q)
	}
	if err != nil {
		var se *api.StatusError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("%w: %s", ErrUpstream, se.Error())
		}
		return nil, err
	}
	return resp, nil
}

// History fetches up to limit candles for a backend resolution code. Rows
// are returned as received; invalid numerics come back as NaN.
func (c *Client) History(ctx context.Context, symbol, resolution string, limit int) ([]types.Candle, error) {
	q := url.Values{
		"symbol":     {symbol},
		"resolution": {resolution},
		"limit":      {strconv.Itoa(limit)},
	}
	resp, err := c.get(ctx, c.paths.History, q, true)
	if err != nil {
		return nil, err
	}

	var body historyResponse
	if err := resp.ParseJSON(&body); err != nil {
		return nil, err
	}
	if msg := upstreamMessage(body.Error); msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, msg)
	}

	out := make([]types.Candle, 0, len(body.Candles))
	for _, r := range body.Candles {
		out = append(out, types.Candle{
			Time:  int64(r.T),
			Open:  r.O.Float(),
			High:  r.H.Float(),
			Low:   r.L.Float(),
			Close: r.C.Float(),
		})
	}
	return out, nil
}

func (c *Client) Latest(ctx context.Context, symbol string) (types.LatestQuote, error) {
	resp, err := c.get(ctx, c.paths.Latest, url.Values{"symbol": {symbol}}, true)
	if err != nil {
		return types.LatestQuote{}, err
	}

	var body latestResponse
	if err := resp.ParseJSON(&body); err != nil {
		return types.LatestQuote{}, err
	}
	if msg := upstreamMessage(body.Error); msg != "" {
		return types.LatestQuote{}, fmt.Errorf("%w: %s", ErrUpstream, msg)
	}

	price := body.Price.Float()
	if math.IsNaN(price) {
		return types.LatestQuote{}, fmt.Errorf("%w: latest quote for %s has no price", ErrUpstream, symbol)
	}

	q := types.LatestQuote{
		Price: price,
		Open:  body.Open.Ptr(),
		High:  body.High.Ptr(),
		Low:   body.Low.Ptr(),
	}
	if v := body.Change.Float(); !math.IsNaN(v) {
		q.Change = v
	}
	if v := body.ChangePercent.Float(); !math.IsNaN(v) {
		q.ChangePercent = v
	}
	return q, nil
}

// OHLC fetches recent candles for a UI interval token (e.g. "5m").
func (c *Client) OHLC(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	q := url.Values{
		"symbol":   {symbol},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	resp, err := c.get(ctx, c.paths.OHLC, q, false)
	if err != nil {
		return nil, err
	}

	var body ohlcResponse
	if err := resp.ParseJSON(&body); err != nil {
		return nil, err
	}
	if msg := upstreamMessage(body.Error); msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, msg)
	}

	out := make([]types.Candle, 0, len(body.Data))
	for _, r := range body.Data {
		out = append(out, types.Candle{
			Time:  int64(r.Time),
			Open:  r.Open.Float(),
			High:  r.High.Float(),
			Low:   r.Low.Float(),
			Close: r.Close.Float(),
		})
	}
	return out, nil
}
