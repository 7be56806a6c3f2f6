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

package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextCarriesIdentity(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, SessionIDFromContext(ctx))
	assert.Empty(t, AgentIDFromContext(ctx))

	ctx = WithSessionID(ctx, "sess-1")
	ctx = WithAgentID(ctx, "agent-1")
	assert.Equal(t, "sess-1", SessionIDFromContext(ctx))
	assert.Equal(t, "agent-1", AgentIDFromContext(ctx))
}

func TestContextEmptyIDsAreNoOps(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithSessionID(ctx, ""))
	assert.Equal(t, ctx, WithAgentID(ctx, ""))
}
