// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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

package gres

import (
	"github.com/pkg/errors"
)

// ErrorKind classifies the reason a filter or selection call failed.
type ErrorKind int

const (
	// ErrInsufficientCPUs: cpus_per_gres leaves too few CPUs for the request.
	ErrInsufficientCPUs ErrorKind = iota
	// ErrInsufficientMemory: mem_per_gres exceeds available node memory.
	ErrInsufficientMemory
	// ErrInsufficientCount: total_cnt fell below min_gres.
	ErrInsufficientCount
	// ErrInvalidSharedRequest: a shared request used an unsupported combination of counters,
	// or its topology slots could not supply the requested count.
	ErrInvalidSharedRequest
	// ErrInvalidTaskLayout: a per-task request had no tasks_per_node_socket to draw from.
	ErrInvalidTaskLayout
	// ErrJobCounterUnsatisfiable: gres_per_job still unmet after pass 2.
	ErrJobCounterUnsatisfiable
	// ErrInvariantViolated: an invalid cluster policy option or policy document.
	ErrInvariantViolated
)

func (k ErrorKind) String() string {
	switch k {
	case ErrInsufficientCPUs:
		return "insufficient-cpus"
	case ErrInsufficientMemory:
		return "insufficient-memory"
	case ErrInsufficientCount:
		return "insufficient-count"
	case ErrInvalidSharedRequest:
		return "invalid-shared-request"
	case ErrInvalidTaskLayout:
		return "invalid-task-layout"
	case ErrJobCounterUnsatisfiable:
		return "job-counter-unsatisfiable"
	case ErrInvariantViolated:
		return "internal-invariant-violated"
	default:
		return "unknown"
	}
}

// gresKindError carries an ErrorKind alongside the wrapped message, so
// callers can still recover the kind with errors.As after it has been
// through pkg/errors or multierror.
type gresKindError struct {
	kind ErrorKind
	err  error
}

func (e *gresKindError) Error() string { return e.err.Error() }
func (e *gresKindError) Unwrap() error { return e.err }
func (e *gresKindError) Kind() ErrorKind { return e.kind }

// gresError creates a GRES-selection error tagged with kind.
func gresError(kind ErrorKind, format string, args ...interface{}) error {
	return &gresKindError{kind: kind, err: errors.Errorf("gres: %s: "+format, append([]interface{}{kind}, args...)...)}
}

// KindOf extracts the ErrorKind from err, if it (or something it wraps)
// is a gresKindError.
func KindOf(err error) (ErrorKind, bool) {
	type kinder interface{ Kind() ErrorKind }
	for err != nil {
		if k, ok := err.(kinder); ok {
			return k.Kind(), true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return 0, false
}
