// Copyright (C) 2025 Codex Bridge Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors returned by RpcClient and Supervisor.
var (
	// ErrNotRunning is returned when a request is attempted while no
	// child process is attached to the client.
	ErrNotRunning = errors.New("codex child process not running")

	// ErrClosed is returned for requests submitted after Close.
	ErrClosed = errors.New("rpc client closed")
)

// RpcError wraps a JSON-RPC 2.0 error object returned by the child, or
// synthesized by the supervisor on timeout/crash/spawn failure.
type RpcError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *RpcError) Error() string {
	return e.Message
}

// newTimeoutError builds the §4.2 timeout error message.
func newTimeoutError(method string) error {
	return &RpcError{Code: -32000, Message: fmt.Sprintf("RPC timeout for %s", method)}
}

// newExitError builds the §4.3 child-exit error message.
func newExitError(exitCode int, signaled bool, signal string) error {
	if signaled {
		return &RpcError{Code: -32001, Message: fmt.Sprintf("codex exited: signal %s", signal)}
	}
	return &RpcError{Code: -32001, Message: fmt.Sprintf("codex exited: code %d", exitCode)}
}

// newSpawnError builds the §4.3 spawn-failure error message.
func newSpawnError(err error) error {
	return &RpcError{Code: -32002, Message: fmt.Sprintf("codex spawn error: %v", err)}
}

func fromResponseError(e *ResponseError) error {
	return &RpcError{Code: e.Code, Message: e.Message, Data: e.Data}
}
