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

package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures for retry/fallback decisions.
type ErrorKind string

const (
	// KindUnavailable means the backend is unreachable or returned a server
	// error; the router should fall back to another provider.
	KindUnavailable ErrorKind = "unavailable"

	// KindAuthentication means credentials were rejected; never retried
	// against the same provider.
	KindAuthentication ErrorKind = "authentication"

	// KindRateLimit means the backend throttled the request; the provider
	// is cooled down and the chain advances immediately.
	KindRateLimit ErrorKind = "rate-limit"

	// KindGeneric is any other provider failure.
	KindGeneric ErrorKind = "generic"
)

// ProviderError is a typed failure from one backend.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Msg      string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%s): %v", e.Provider, e.Msg, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Msg, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError creates a typed provider error.
func NewProviderError(provider string, kind ErrorKind, format string, args ...any) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from an error chain; KindGeneric when the
// chain carries no ProviderError.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindGeneric
}

// IsUnavailable reports whether the error chain marks the backend down.
func IsUnavailable(err error) bool { return KindOf(err) == KindUnavailable }

// IsAuth reports whether the error chain marks rejected credentials.
func IsAuth(err error) bool { return KindOf(err) == KindAuthentication }

// IsRateLimit reports whether the error chain marks throttling.
func IsRateLimit(err error) bool { return KindOf(err) == KindRateLimit }
