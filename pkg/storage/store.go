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

// Package storage defines the object-store persistence API consumed by the
// session manager (checkpoint artifacts) and the persistent memory tier.
// Backends: filestore (one JSON document per key), sqlitestore
// (modernc.org/sqlite), pgstore (lib/pq).
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no document exists under the key.
var ErrNotFound = errors.New("storage: document not found")

// ObjectStore is a key/value document store. Values are opaque byte
// documents (JSON in practice). Keys are flat strings; backends must treat
// them opaquely.
//
// Implementations are safe for concurrent use.
type ObjectStore interface {
	// Put stores the document under key, replacing any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Get retrieves the document stored under key.
	// Returns ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the document under key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// List returns all stored keys in unspecified order.
	List(ctx context.Context) ([]string, error)

	// Close releases backend resources.
	Close() error
}
