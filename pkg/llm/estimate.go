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
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenizer is lazily initialized; tiktoken needs its encoding tables and
// may be unavailable offline, in which case we fall back to the
// chars/4 heuristic.
var (
	tokenizerOnce sync.Once
	tokenizer     *tiktoken.Tiktoken
)

// EstimateTokens approximates the token count of text.
func EstimateTokens(text string) int {
	tokenizerOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tokenizer = enc
		}
	})
	if tokenizer != nil {
		return len(tokenizer.Encode(text, nil, nil))
	}
	// 1 token ~ 4 characters
	return (len(text) + 3) / 4
}

// rolesCritical are agent roles whose requests are bumped to critical
// complexity regardless of size.
var rolesCritical = map[string]bool{
	"architect": true,
	"research":  true,
}

// Estimate derives task characteristics from a request when the caller
// supplied none.
func Estimate(req *Request) TaskCharacteristics {
	if req.Options.Task != nil {
		return *req.Options.Task
	}

	text := req.PromptText()
	contextSize := EstimateTokens(text)
	expectedOutput := req.Options.MaxTokens
	if expectedOutput == 0 {
		expectedOutput = 1024
	}

	tc := TaskCharacteristics{
		TaskType:             classifyTask(text),
		ContextSize:          contextSize,
		ExpectedOutputTokens: expectedOutput,
		AgentRole:            req.Options.Role,
	}
	tc.Complexity = classifyComplexity(contextSize, expectedOutput, tc.AgentRole)
	return tc
}

// classifyTask applies keyword heuristics over the prompt.
func classifyTask(text string) TaskType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "debug"), strings.Contains(lower, "stack trace"),
		strings.Contains(lower, "root cause"):
		return TaskDebugging
	case strings.Contains(lower, "summarize"), strings.Contains(lower, "summary"):
		return TaskSummarization
	case strings.Contains(lower, "research"), strings.Contains(lower, "investigate"):
		return TaskResearch
	default:
		return TaskGeneration
	}
}

// classifyComplexity maps the dominant size signal to a complexity bucket.
// Architect and research roles are always at least critical.
func classifyComplexity(contextSize, expectedOutput int, role string) Complexity {
	signal := contextSize
	if expectedOutput > signal {
		signal = expectedOutput
	}

	var c Complexity
	switch {
	case signal < 1_000:
		c = ComplexityLow
	case signal < 8_000:
		c = ComplexityMedium
	case signal < 32_000:
		c = ComplexityHigh
	default:
		c = ComplexityCritical
	}

	if rolesCritical[strings.ToLower(role)] && c.Rank() < ComplexityCritical.Rank() {
		c = ComplexityCritical
	}
	return c
}
