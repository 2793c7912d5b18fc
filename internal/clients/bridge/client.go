// Package bridge drives a brokerage session exposed by the desktop
// automation bridge. Calls are msgpack-encoded RPCs over HTTP, serialized
// through a single worker so the session never sees concurrent requests.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	defaultMinDelay  = 250 * time.Millisecond
	defaultTimeout   = 30 * time.Second
	requestQueueSize = 64
	contentType      = "application/msgpack"
)

// ErrClientClosed is returned for calls made after Close
var ErrClientClosed = errors.New("bridge client is closed")

// Config configures a bridge client
type Config struct {
	BaseURL string
	// MinDelay is the minimum gap between the end of one call and the start of the next
	MinDelay time.Duration
	Timeout  time.Duration
}

// envelope is the response frame every RPC returns
type envelope struct {
	OK    bool               `msgpack:"ok"`
	Error string             `msgpack:"error"`
	Data  msgpack.RawMessage `msgpack:"data"`
}

type requestJob struct {
	ctx      context.Context
	method   string
	params   interface{}
	resultCh chan requestResult
}

type requestResult struct {
	data msgpack.RawMessage
	err  error
}

// Client is a serialized RPC client for the bridge
type Client struct {
	baseURL      string
	minDelay     time.Duration
	httpClient   *http.Client
	log          zerolog.Logger
	requestQueue chan requestJob
	stopChan     chan struct{}
	workerDone   chan struct{}
	once         sync.Once
}

// NewClient creates a bridge client and starts its worker
func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = defaultMinDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	c := &Client{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		minDelay:     cfg.MinDelay,
		httpClient:   &http.Client{Timeout: cfg.Timeout},
		log:          log.With().Str("component", "bridge-client").Logger(),
		requestQueue: make(chan requestJob, requestQueueSize),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
	}
	go c.worker()
	return c
}

// call queues an RPC and decodes its data into out (which may be nil)
func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	job := requestJob{
		ctx:      ctx,
		method:   method,
		params:   params,
		resultCh: make(chan requestResult, 1),
	}

	select {
	case c.requestQueue <- job:
	case <-c.stopChan:
		return ErrClientClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("bridge request queue is full")
	}

	var result requestResult
	select {
	case result = <-job.resultCh:
	case <-c.workerDone:
		return ErrClientClosed
	}
	if result.err != nil {
		return result.err
	}
	if out == nil || len(result.data) == 0 {
		return nil
	}
	if err := msgpack.Unmarshal(result.data, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}

// worker runs queued calls one at a time, keeping minDelay between them
func (c *Client) worker() {
	defer close(c.workerDone)

	var lastRequestTime time.Time

	processJob := func(job requestJob) {
		if err := job.ctx.Err(); err != nil {
			job.resultCh <- requestResult{err: err}
			return
		}
		if !lastRequestTime.IsZero() {
			if elapsed := time.Since(lastRequestTime); elapsed < c.minDelay {
				time.Sleep(c.minDelay - elapsed)
			}
		}

		data, err := c.do(job.ctx, job.method, job.params)
		lastRequestTime = time.Now()
		job.resultCh <- requestResult{data: data, err: err}
	}

	for {
		select {
		case <-c.stopChan:
			for {
				select {
				case job := <-c.requestQueue:
					job.resultCh <- requestResult{err: ErrClientClosed}
				default:
					return
				}
			}
		case job := <-c.requestQueue:
			processJob(job)
		}
	}
}

// do performs one RPC without queueing
func (c *Client) do(ctx context.Context, method string, params interface{}) (msgpack.RawMessage, error) {
	if params == nil {
		params = map[string]interface{}{}
	}
	payload, err := msgpack.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s params: %w", method, err)
	}

	requestURL := fmt.Sprintf("%s/rpc/%s", c.baseURL, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", contentType)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		bodyStr := string(body)
		if len(bodyStr) > 500 {
			bodyStr = bodyStr[:500] + "..."
		}
		c.log.Error().
			Int("status_code", resp.StatusCode).
			Str("method", method).
			Str("response_body", bodyStr).
			Msg("Bridge returned non-200 status")
		return nil, fmt.Errorf("bridge returned status %d for %s", resp.StatusCode, method)
	}

	var env envelope
	if err := msgpack.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("failed to decode %s envelope: %w", method, err)
	}
	if !env.OK {
		msg := env.Error
		if msg == "" {
			msg = "unspecified bridge error"
		}
		return nil, fmt.Errorf("%s: %s", method, msg)
	}

	c.log.Debug().
		Str("method", method).
		Dur("took", time.Since(start)).
		Msg("Bridge call completed")
	return env.Data, nil
}

// Close stops the worker. Queued calls fail with ErrClientClosed.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.stopChan)
		<-c.workerDone
	})
}
