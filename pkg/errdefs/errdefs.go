// Copyright 2025 walteh LLC
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

// Package errdefs defines the error kinds shared by the transfer engine.
package errdefs

import (
	"fmt"

	"gitlab.com/tozd/go/errors"
)

// Kind classifies an engine error.
type Kind string

const (
	KindConnection  Kind = "connection"
	KindNotFound    Kind = "not found"
	KindUnsupported Kind = "unsupported operation"
	KindRecursion   Kind = "recursion"
	KindTransform   Kind = "transform"
)

// Error is an engine error tagged with a Kind.
type Error struct {
	Kind Kind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Kind) + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Path != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinel comparisons such as
// errors.Is(err, errdefs.ErrNotFound) work through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Path == "" && t.Err == nil
}

var (
	ErrConnection  = &Error{Kind: KindConnection}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrUnsupported = &Error{Kind: KindUnsupported}
	ErrRecursion   = &Error{Kind: KindRecursion}
	ErrTransform   = &Error{Kind: KindTransform}
)

func newError(kind Kind, op, path string, err error) error {
	return errors.WithStack(&Error{Kind: kind, Op: op, Path: path, Err: err})
}

// Connection reports a failure to establish or keep a backend session.
func Connection(op string, err error) error {
	return newError(KindConnection, op, "", err)
}

// NotFound reports a missing remote path.
func NotFound(op, path string, err error) error {
	return newError(KindNotFound, op, path, err)
}

// Unsupported reports an operation the backend or plugin does not implement.
func Unsupported(op, what string) error {
	return newError(KindUnsupported, op, "", errors.Base(what))
}

// Recursion reports a self-referencing target chain or an exceeded depth limit.
func Recursion(op, path string, err error) error {
	return newError(KindRecursion, op, path, err)
}

// Transform reports a payload transform or crypto failure.
func Transform(op string, err error) error {
	return newError(KindTransform, op, "", err)
}

// KindOf returns the kind of the first *Error in the chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsConnection(err error) bool  { return KindOf(err) == KindConnection }
func IsNotFound(err error) bool    { return KindOf(err) == KindNotFound }
func IsUnsupported(err error) bool { return KindOf(err) == KindUnsupported }
func IsRecursion(err error) bool   { return KindOf(err) == KindRecursion }
func IsTransform(err error) bool   { return KindOf(err) == KindTransform }
