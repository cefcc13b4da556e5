// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fallback

import (
	"context"
	"errors"
	"fmt"

	"github.com/kadirpekel/ensemble/pkg/llms"
	"github.com/kadirpekel/ensemble/pkg/memory"
	"github.com/kadirpekel/ensemble/pkg/tools"
)

// Kind is the failure taxonomy shared across components. Every error that
// reaches a caller through a Result carries exactly one Kind.
type Kind string

const (
	KindTransport         Kind = "transport_error"
	KindTimeout           Kind = "timeout_error"
	KindRateLimited       Kind = "rate_limited"
	KindInvalidOutput     Kind = "invalid_output"
	KindInvalidParameters Kind = "invalid_parameters"
	KindUnknownTool       Kind = "unknown_tool"
	KindUnauthorized      Kind = "unauthorized"
	KindCircuitOpen       Kind = "circuit_open"
	KindNotFound          Kind = "not_found"
	KindConflictResolved  Kind = "conflict_resolved"
	KindDegradedResult    Kind = "degraded_result"
	KindInternal          Kind = "internal_error"
)

// ErrCircuitOpen marks rejections from an open circuit.
var ErrCircuitOpen = errors.New("circuit open")

// ErrInvalidOutput marks model responses that could not be parsed even
// after every fallback stage.
var ErrInvalidOutput = errors.New("invalid model output")

// CircuitOpenError is returned when a component's breaker rejects a call
// without running it.
type CircuitOpenError struct {
	Component string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for component %q", e.Component)
}

func (e *CircuitOpenError) Unwrap() error {
	return ErrCircuitOpen
}

// Classify maps any error onto the shared taxonomy. Classification happens
// once, at the origin's boundary; strategies dispatch on the result and
// never re-classify.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrCircuitOpen) {
		return KindCircuitOpen
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTimeout
	}
	if errors.Is(err, ErrInvalidOutput) {
		return KindInvalidOutput
	}

	var llmErr *llms.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Kind {
		case llms.KindRateLimited:
			return KindRateLimited
		case llms.KindTimeout:
			return KindTimeout
		case llms.KindInvalidRequest:
			return KindInvalidParameters
		case llms.KindTransport:
			return KindTransport
		default:
			return KindInternal
		}
	}

	if errors.Is(err, tools.ErrUnknownTool) {
		return KindUnknownTool
	}
	if errors.Is(err, tools.ErrUnauthorized) {
		return KindUnauthorized
	}
	var paramsErr *tools.InvalidParametersError
	if errors.As(err, &paramsErr) {
		return KindInvalidParameters
	}

	if errors.Is(err, memory.ErrNotFound) {
		return KindNotFound
	}

	return KindInternal
}
