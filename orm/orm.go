// orm/orm.go

// Package orm is the runtime contract for code produced by the goorm backend.
//
// Generated action functions are thin drivers: every data access and every
// expression evaluation goes through the Runtime interface, so the generated
// code stays backend-agnostic and testable with a fake runtime.
package orm

import (
	"context"
	"fmt"
)

// Scope carries parameter and variable bindings for one action invocation.
type Scope map[string]any

// NewScope copies the caller's parameter bindings into a fresh scope.
// Generated code mutates its scope freely; the caller's map is untouched.
func NewScope(params Scope) Scope {
	s := make(Scope, len(params))
	for k, v := range params {
		s[k] = v
	}
	return s
}

// Runtime executes the data-access primitives referenced by generated code.
// Expressions are SQL expression text; bindings named in the expression are
// resolved from the scope by the implementation.
type Runtime interface {
	// Exists reports whether a row matching the condition exists.
	Exists(ctx context.Context, table, cond string, scope Scope) (bool, error)

	// SelectValue evaluates a single-value query.
	SelectValue(ctx context.Context, query string, scope Scope) (any, error)

	// Query returns all rows of a query, one scope per row.
	Query(ctx context.Context, query string, scope Scope) ([]Scope, error)

	// Exec runs a mutating statement.
	Exec(ctx context.Context, stmt string, scope Scope) error

	// Eval evaluates a boolean expression.
	Eval(ctx context.Context, expr string, scope Scope) (bool, error)

	// EvalValue evaluates a value expression.
	EvalValue(ctx context.Context, expr string, scope Scope) (any, error)

	// Notify publishes a payload on a channel.
	Notify(ctx context.Context, channel, payload string, scope Scope) error
}

// ActionError is a stable-code business error surfaced by generated actions.
type ActionError struct {
	Code string
}

func (e *ActionError) Error() string { return e.Code }

// Errorf builds an ActionError carrying the stable error-code string.
func Errorf(code string) error {
	return &ActionError{Code: code}
}

// IsCode reports whether err is an ActionError with the given code.
func IsCode(err error, code string) bool {
	ae, ok := err.(*ActionError)
	return ok && ae.Code == code
}

// MissingBinding reports a scope lookup failure inside a runtime
// implementation. Exposed so implementations agree on the message shape.
func MissingBinding(name string) error {
	return fmt.Errorf("no binding for %s in scope", name)
}
