// Package hec implements a batching client for the HTTP Event Collector.
//
// A Forwarder accumulates serialized envelopes until adding one more would
// push the batch past MaxBatchBytes, at which point the pending batch is
// delivered in a single POST before the new envelope is queued. Flush always
// leaves the batch empty, whether or not delivery succeeded.
package hec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"
)

var batchSeparator = []byte("\n")

// Stats counts forwarder activity since construction.
type Stats struct {
	Added     int // envelopes queued with Add
	Flushes   int // non-empty batch flushes
	Requests  int // POSTs attempted, batch and single-event
	Delivered int // envelopes in acknowledged batches
	Dropped   int // envelopes discarded by failed flushes
}

// Forwarder batches envelopes and delivers them to one collector.
// It is meant to be owned by a single invocation; methods serialize on an
// internal mutex, so a flush blocks concurrent Add calls for its duration.
type Forwarder struct {
	cfg      Config
	endpoint string
	client   *http.Client
	now      func() time.Time

	mu    sync.Mutex
	batch [][]byte
	size  int
	stats Stats
}

// New validates cfg, applies defaults and returns an empty Forwarder.
func New(cfg Config) (*Forwarder, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Forwarder{
		cfg:      cfg,
		endpoint: cfg.Endpoint(),
		client:   cfg.httpClient(),
		now:      time.Now,
	}, nil
}

// Endpoint returns the collector URL requests are sent to.
func (f *Forwarder) Endpoint() string { return f.endpoint }

// HostIdentity returns the host stamped on envelopes without one.
func (f *Forwarder) HostIdentity() string { return f.cfg.HostIdentity }

// Add queues env for the next flush.
//
// The envelope is measured in its final serialized form, time included. If
// queuing it would take the batch past MaxBatchBytes, the pending batch is
// flushed first and env becomes the only member of the new batch. An envelope
// larger than MaxBatchBytes on its own is still queued and goes out alone.
// The returned error is the delivery error of such an eager flush; env is
// queued either way.
func (f *Forwarder) Add(ctx context.Context, env Envelope) error {
	line, err := f.encode(env)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var flushErr error
	if len(f.batch) > 0 && f.size+len(line) > f.cfg.MaxBatchBytes {
		flushErr = f.flushLocked(ctx)
	}
	f.batch = append(f.batch, line)
	f.size += len(line)
	f.stats.Added++
	return flushErr
}

// Flush delivers the pending batch in one request. An empty batch is a no-op.
// The batch is discarded before Flush returns regardless of the outcome; a
// failed delivery is reported as a *DeliveryError.
func (f *Forwarder) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushLocked(ctx)
}

func (f *Forwarder) flushLocked(ctx context.Context) error {
	if len(f.batch) == 0 {
		return nil
	}
	body := bytes.Join(f.batch, batchSeparator)
	count := len(f.batch)
	f.batch = nil
	f.size = 0
	f.stats.Flushes++
	f.stats.Requests++

	status, respBody, err := f.post(ctx, body)
	if err != nil {
		f.stats.Dropped += count
		return &DeliveryError{StatusCode: status, Events: count, Err: err}
	}
	if status < 200 || status > 299 {
		f.stats.Dropped += count
		return &DeliveryError{StatusCode: status, Body: string(bytes.TrimSpace(respBody)), Events: count}
	}
	f.stats.Delivered += count
	return nil
}

// Send delivers env immediately in its own request, bypassing the batch.
// Unlike Flush it inspects the acknowledgement: a response whose text is not
// "Success" is logged verbatim and returned with OK() == false, without an
// error. Only transport failures produce an error.
func (f *Forwarder) Send(ctx context.Context, env Envelope) (*Response, error) {
	line, err := f.encode(env)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.stats.Requests++
	f.mu.Unlock()

	status, body, err := f.post(ctx, line)
	if err != nil {
		return nil, &DeliveryError{StatusCode: status, Events: 1, Err: err}
	}
	resp := parseResponse(status, body)
	if !resp.OK() {
		log.Printf("hec: event not accepted by %s (status %d): %s", f.endpoint, status, resp.Raw)
	}
	return resp, nil
}

// Len returns the number of queued envelopes.
func (f *Forwarder) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.batch)
}

// Size returns the cumulative serialized size of queued envelopes.
func (f *Forwarder) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.size
}

// Stats returns a snapshot of the activity counters.
func (f *Forwarder) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *Forwarder) encode(env Envelope) ([]byte, error) {
	if env.Host == "" {
		env.Host = f.cfg.HostIdentity
	}
	if env.Time == "" {
		env.Time = strconv.FormatInt(f.now().Unix(), 10)
	}
	return env.marshal()
}

func (f *Forwarder) post(ctx context.Context, body []byte) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Splunk "+f.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Splunk-Request-Channel", f.cfg.Channel)

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
