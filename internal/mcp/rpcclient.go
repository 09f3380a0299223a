// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer emits one span per outstanding RPC, scoped to the round trip
// from Rpc/RpcWithId to Dispatch/failPending/FailAll rather than to
// the enclosing HTTP request.
var tracer = otel.Tracer("codexbridge/mcp")

// Future resolves to a raw JSON result or rejects with an error.
type Future struct {
	done   chan struct{}
	result json.RawMessage
	err    error
}

// Wait blocks until the future resolves, or ctx is cancelled first.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Future) resolve(result json.RawMessage, err error) {
	f.result = result
	f.err = err
	close(f.done)
}

// pendingRpc is the ephemeral bookkeeping record for one in-flight
// request: the future to resolve, and the timer that will fail it if
// no response arrives in time.
type pendingRpc struct {
	future *Future
	method string
	timer  *time.Timer
	span   trace.Span
}

// RpcClient maintains a table of in-flight requests keyed by JSON-RPC
// id, resolving them on a matching response or rejecting on a
// per-request timeout.
//
// # Thread Safety
//
// Safe for concurrent Rpc/RpcWithId calls from any number of goroutines.
// Dispatch must be driven by a single goroutine reading off the codec.
type RpcClient struct {
	codec   *Codec
	timeout time.Duration
	mu      sync.Mutex
	pending map[string]*pendingRpc
	closed  bool
}

// NewRpcClient builds a client around codec with the given per-request
// timeout (RPC_TIMEOUT_MS).
func NewRpcClient(codec *Codec, timeout time.Duration) *RpcClient {
	return &RpcClient{
		codec:   codec,
		timeout: timeout,
		pending: make(map[string]*pendingRpc),
	}
}

// Rpc generates a fresh opaque id and issues the request.
func (c *RpcClient) Rpc(ctx context.Context, method string, params interface{}) (*Future, error) {
	return c.RpcWithId(ctx, method, params, uuid.NewString())
}

// RpcWithId issues a request using a caller-supplied id. The streaming
// handler reuses the per-request correlation id here so a late
// response still resolves even if a terminal notification already
// finished the stream.
//
// A span is started around the round trip and ends wherever the
// request is ultimately resolved: Dispatch, failPending, or FailAll.
func (c *RpcClient) RpcWithId(ctx context.Context, method string, params interface{}, id string) (*Future, error) {
	_, span := tracer.Start(ctx, method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", method),
		attribute.String("rpc.id", id),
	))

	future := &Future{done: make(chan struct{})}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		span.SetStatus(codes.Error, ErrClosed.Error())
		span.End()
		return nil, ErrClosed
	}

	entry := &pendingRpc{future: future, method: method, span: span}
	entry.timer = time.AfterFunc(c.timeout, func() {
		c.failPending(id, newTimeoutError(method))
	})
	c.pending[id] = entry
	c.mu.Unlock()

	req := Request{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}
	if err := c.codec.Write(req); err != nil {
		c.failPending(id, err)
		return future, nil
	}
	return future, nil
}

// Dispatch is called by the stdout-reader actor for every decoded
// response. Responses with no matching pending entry (a late reply
// after timeout) are dropped.
func (c *RpcClient) Dispatch(resp *Response) {
	c.mu.Lock()
	entry, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	entry.timer.Stop()

	if resp.Error != nil {
		err := fromResponseError(resp.Error)
		entry.span.SetStatus(codes.Error, err.Error())
		entry.span.End()
		entry.future.resolve(nil, err)
		return
	}
	entry.span.SetStatus(codes.Ok, "")
	entry.span.End()
	entry.future.resolve(resp.Result, nil)
}

// failPending resolves a single pending entry with err, if still present.
func (c *RpcClient) failPending(id string, err error) {
	c.mu.Lock()
	entry, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()

	if !ok {
		return
	}
	entry.timer.Stop()
	entry.span.SetStatus(codes.Error, err.Error())
	entry.span.End()
	entry.future.resolve(nil, err)
}

// FailAll rejects every pending request with err. Called by the
// supervisor on child exit or spawn failure.
func (c *RpcClient) FailAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRpc)
	c.mu.Unlock()

	for _, entry := range pending {
		entry.timer.Stop()
		entry.span.SetStatus(codes.Error, err.Error())
		entry.span.End()
		entry.future.resolve(nil, err)
	}
}

// Close marks the client closed and fails all pending requests with
// ErrClosed. Subsequent Rpc/RpcWithId calls fail immediately.
func (c *RpcClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.FailAll(ErrClosed)
}

// Reopen clears the closed flag so the client can be reused after the
// supervisor respawns the child with a fresh codec.
func (c *RpcClient) Reopen(codec *Codec) {
	c.mu.Lock()
	c.closed = false
	c.codec = codec
	c.mu.Unlock()
}

// PendingCount reports the number of in-flight requests, used by
// Supervisor.Status.
func (c *RpcClient) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
