// Copyright 2026 Hivekit
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package types

import (
	"errors"
	"fmt"
)

// Code identifies a class of runtime error surfaced to callers.
// The set is closed; callers switch over it.
type Code string

const (
	CodeInvalidConfig      Code = "INVALID_CONFIG"
	CodeCapacityExceeded   Code = "CAPACITY_EXCEEDED"
	CodeNotFound           Code = "NOT_FOUND"
	CodePoolInactive       Code = "POOL_INACTIVE"
	CodeNoWorkersAvailable Code = "NO_WORKERS_AVAILABLE"
	CodeWorkerBusy         Code = "WORKER_BUSY"
	CodeLLMUnavailable     Code = "LLM_UNAVAILABLE"
	CodeLLMAuth            Code = "LLM_AUTH"
	CodeLLMRateLimit       Code = "LLM_RATE_LIMIT"
	CodeAllProvidersFailed Code = "ALL_PROVIDERS_FAILED"
	CodeCheckpointFailed   Code = "CHECKPOINT_FAILED"
)

// CodedError carries a Code through error wrap chains.
type CodedError struct {
	Code Code
	Msg  string
	Err  error
}

func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *CodedError) Unwrap() error { return e.Err }

// NewError creates a CodedError with a formatted message.
func NewError(code Code, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapError creates a CodedError wrapping an underlying cause.
func WrapError(code Code, err error, format string, args ...any) *CodedError {
	return &CodedError{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the Code from an error chain, or "" when none is present.
func CodeOf(err error) Code {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return ""
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool { return CodeOf(err) == code }
