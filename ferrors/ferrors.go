// Copyright 2020 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ferrors distinguishes errors caused by the caller (UserFault)
// from errors caused by the environment (SystemError), so callers such as
// cmd/letterman can choose an exit code without inspecting error strings.
package ferrors

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// UserFault describes an error caused by invalid input or a precondition
// the caller could have checked, such as an unmapped drive letter.
type UserFault struct {
	Msg string
}

func (e *UserFault) Error() string { return e.Msg }

// SystemError describes an error caused by the environment: a failed
// syscall, a corrupt hive, an unreachable device. Op names the operation
// that failed.
type SystemError struct {
	Op  string
	Err error
}

func (e *SystemError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SystemError) Unwrap() error { return e.Err }

// Userf builds a UserFault from a format string, matching fmt.Errorf's
// calling convention.
func Userf(format string, args ...interface{}) error {
	return &UserFault{Msg: fmt.Sprintf(format, args...)}
}

// System wraps err as a SystemError attributed to op. err is captured
// with a stack trace via pkg/errors so cmd/letterman can print one in
// verbose mode without every call site needing to capture it itself.
func System(op string, err error) error {
	return &SystemError{Op: op, Err: pkgerrors.WithStack(err)}
}

// StackTrace returns the formatted stack trace captured when err was
// wrapped by System, or "" if err is not a SystemError or carries no
// trace.
func StackTrace(err error) string {
	var se *SystemError
	if !errors.As(err, &se) {
		return ""
	}
	type stackTracer interface {
		StackTrace() pkgerrors.StackTrace
	}
	var st stackTracer
	if !errors.As(se.Err, &st) {
		return ""
	}
	return fmt.Sprintf("%+v", st.StackTrace())
}

// IsUserFault reports whether err is, or wraps, a UserFault.
func IsUserFault(err error) bool {
	var uf *UserFault
	return errors.As(err, &uf)
}

// IsSystemError reports whether err is, or wraps, a SystemError.
func IsSystemError(err error) bool {
	var se *SystemError
	return errors.As(err, &se)
}
