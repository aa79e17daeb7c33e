// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package selection

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error for the request boundary.
type Kind string

const (
	// KindConfiguration marks a malformed plan or parameter set. This is
	// the one error class that aborts a call, since it indicates a caller
	// bug rather than a data-dependent failure.
	KindConfiguration Kind = "configuration"
	// KindSamplerExhausted marks a sampler that ran out of distinct
	// candidates. It is reported in results, never raised as an error.
	KindSamplerExhausted Kind = "sampler_exhausted"
	// KindEvaluationFailure marks a single candidate's score or train call
	// failing. Folded into run diagnostics, never fatal.
	KindEvaluationFailure Kind = "evaluation_failure"
	// KindInternal is everything else.
	KindInternal Kind = "internal"
)

// Error is a classified engine error.
type Error struct {
	ErrKind Kind
	Msg     string
}

func (e *Error) Error() string {
	return e.Msg
}

// NewConfigurationError reports a caller bug in the provided parameters.
func NewConfigurationError(format string, a ...interface{}) error {
	return &Error{ErrKind: KindConfiguration, Msg: fmt.Sprintf(format, a...)}
}

// KindOf extracts the Kind from an error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.ErrKind
	}
	return KindInternal
}

// IsConfigurationError reports whether err is a parameter validation error.
func IsConfigurationError(err error) bool {
	return KindOf(err) == KindConfiguration
}

// EvaluationFailure records a single candidate's score or train call failing
// during a run. The candidate is eliminated with a worst-possible metric and
// the run continues.
type EvaluationFailure struct {
	ID      string
	Round   int
	Message string
}
