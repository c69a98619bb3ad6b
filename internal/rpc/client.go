package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"
)

const resultKey = "rpc_result"

// Fetcher is what the crawler needs from the transport
type Fetcher interface {
	// Fetch issues a GET and returns the JSON body
	Fetch(ctx context.Context, url string) (json.RawMessage, error)
	// Call issues a JSON-RPC 2.0 request and returns its result member
	Call(ctx context.Context, url, method string, params any) (json.RawMessage, error)
}

// Options configures a Client
type Options struct {
	Timeout        time.Duration
	Retries        int
	MaxConcurrency int
	UserAgent      string
}

// Client is a JSON fetcher backed by a single colly collector
type Client struct {
	collector *colly.Collector
	retries   int
	nextID    atomic.Int64
	closeOnce sync.Once
	closed    atomic.Bool
}

// result carries the response of one request out of the collector callbacks
type result struct {
	body   []byte
	status int
}

// NewClient creates a client with its own collector
func NewClient(opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	if opts.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0")
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "peer-weaver"
	}

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(opts.UserAgent),
		colly.MaxDepth(0),
	)
	collector.SetRequestTimeout(opts.Timeout)

	if opts.MaxConcurrency > 0 {
		if err := collector.Limit(&colly.LimitRule{
			DomainGlob:  "*",
			Parallelism: opts.MaxConcurrency,
		}); err != nil {
			return nil, fmt.Errorf("failed to set collector limit: %w", err)
		}
	}

	collector.OnResponse(func(r *colly.Response) {
		if res, ok := r.Ctx.GetAny(resultKey).(*result); ok {
			res.body = r.Body
			res.status = r.StatusCode
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r == nil || r.Ctx == nil {
			return
		}
		if res, ok := r.Ctx.GetAny(resultKey).(*result); ok {
			res.status = r.StatusCode
		}
		if r.Request != nil {
			logrus.Debugf("Request to %s failed: %v (status: %d)", r.Request.URL, err, r.StatusCode)
		}
	})

	return &Client{
		collector: collector,
		retries:   opts.Retries,
	}, nil
}

// Fetch issues a GET for url and returns its JSON body
func (c *Client) Fetch(ctx context.Context, url string) (json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, &TransportError{URL: url, Err: errors.New("response is not valid JSON")}
	}
	return body, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Call posts a JSON-RPC request to url and returns the result member
func (c *Client) Call(ctx context.Context, url, method string, params any) (json.RawMessage, error) {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", method, err)
	}

	body, err := c.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &TransportError{URL: url, Err: fmt.Errorf("failed to parse %s response: %w", method, err)}
	}
	if resp.Error != nil {
		return nil, &TransportError{URL: url, Err: resp.Error}
	}
	if len(resp.Result) == 0 {
		return nil, &TransportError{URL: url, Err: fmt.Errorf("%s response has no result", method)}
	}
	return resp.Result, nil
}

// do runs one request with the retry policy
func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if c.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := c.once(method, url, payload)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if attempt < c.retries {
			logrus.Debugf("Retrying %s %s after error: %v", method, url, err)
		}
	}
	return nil, lastErr
}

// once issues exactly one request through the collector
func (c *Client) once(method, url string, payload []byte) ([]byte, error) {
	res := &result{}
	reqCtx := colly.NewContext()
	reqCtx.Put(resultKey, res)

	hdr := http.Header{}
	hdr.Set("Accept", "application/json")

	var err error
	if payload != nil {
		hdr.Set("Content-Type", "application/json")
		err = c.collector.Request(method, url, bytes.NewReader(payload), reqCtx, hdr)
	} else {
		err = c.collector.Request(method, url, nil, reqCtx, hdr)
	}
	if err != nil {
		return nil, classify(url, res.status, err)
	}
	if res.body == nil {
		return nil, &TransportError{URL: url, StatusCode: res.status, Err: errors.New("empty response")}
	}

	return res.body, nil
}

// Closed reports whether Close was called
func (c *Client) Closed() bool {
	return c.closed.Load()
}

// Close releases the session; later requests fail with ErrClosed
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.collector.Wait()
	})
	return nil
}

// APIURL returns the JSON-RPC endpoint of a node base URL
func APIURL(base string) string {
	return strings.TrimRight(base, "/") + "/api/v3"
}
