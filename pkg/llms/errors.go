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

package llms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies provider failures for the fallback layer.
type ErrorKind string

const (
	KindTransport      ErrorKind = "TRANSPORT"
	KindRateLimited    ErrorKind = "RATE_LIMITED"
	KindInvalidRequest ErrorKind = "INVALID_REQUEST"
	KindTimeout        ErrorKind = "TIMEOUT"
	KindUnknown        ErrorKind = "UNKNOWN"
)

// Error is a classified provider failure. Status is the HTTP status code
// when the failure came from an API response, zero otherwise.
type Error struct {
	Kind    ErrorKind
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm %s (status %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("llm %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// newStatusError classifies an HTTP status into an Error.
func newStatusError(status int, message string) *Error {
	return &Error{Kind: kindForStatus(status), Message: message, Status: status}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status >= 400 && status < 500:
		return KindInvalidRequest
	case status >= 500:
		return KindTransport
	default:
		return KindUnknown
	}
}

// wrapTransportError classifies a request failure that produced no HTTP
// response. Deadline expiry and cancellation map to TIMEOUT, everything
// else to TRANSPORT.
func wrapTransportError(err error) *Error {
	kind := KindTransport
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Message: err.Error(), Err: err}
}
