// internal/emit/emitter.go

// Package emit lowers IR actions to backend source text.
//
// One Emitter per backend, all implementing the same per-kind visitor
// interface. The visitor has one method per Step kind, so a backend that
// misses a primitive fails to compile rather than failing at runtime.
// Emission is deterministic: the same action produces byte-identical output
// on every call.
package emit

import (
	"fmt"

	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

// Emitter lowers a complete action for one backend.
type Emitter interface {
	// Backend returns the stable backend name ("plpgsql", "goorm").
	Backend() string

	// Emit renders the action. Field and entity references resolve through
	// the registry; an unresolvable reference yields a *types.CompileError.
	Emit(action types.Action, reg *schema.Registry) (string, error)
}

// StepVisitor has one method per Step kind. Dispatch routes a step to its
// method; the switch is exhaustive over the closed kind set.
type StepVisitor interface {
	VisitDeclare(s types.Step) error
	VisitAssign(s types.Step) error
	VisitReturn(s types.Step) error
	VisitReturnEarly(s types.Step) error
	VisitInsert(s types.Step) error
	VisitUpdate(s types.Step) error
	VisitPartialUpdate(s types.Step) error
	VisitDelete(s types.Step) error
	VisitSelect(s types.Step) error
	VisitAggregate(s types.Step) error
	VisitValidate(s types.Step) error
	VisitDuplicateCheck(s types.Step) error
	VisitFKResolve(s types.Step) error
	VisitNotify(s types.Step) error
	VisitJSONBuild(s types.Step) error
	VisitCallFunction(s types.Step) error
	VisitCallService(s types.Step) error
	VisitRefresh(s types.Step) error
	VisitIf(s types.Step) error
	VisitSwitch(s types.Step) error
	VisitWhile(s types.Step) error
	VisitForQuery(s types.Step) error
	VisitForeach(s types.Step) error
	VisitCTE(s types.Step) error
	VisitException(s types.Step) error
	VisitCursorDeclare(s types.Step) error
	VisitCursorOpen(s types.Step) error
	VisitCursorFetch(s types.Step) error
	VisitCursorClose(s types.Step) error
	VisitContinue(s types.Step) error
	VisitExit(s types.Step) error
	VisitFallback(s types.Step) error
}

// Dispatch routes one step to the visitor method for its kind.
func Dispatch(v StepVisitor, s types.Step) error {
	switch s.Kind {
	case types.KindDeclare:
		return v.VisitDeclare(s)
	case types.KindAssign:
		return v.VisitAssign(s)
	case types.KindReturn:
		return v.VisitReturn(s)
	case types.KindReturnEarly:
		return v.VisitReturnEarly(s)
	case types.KindInsert:
		return v.VisitInsert(s)
	case types.KindUpdate:
		return v.VisitUpdate(s)
	case types.KindPartialUpdate:
		return v.VisitPartialUpdate(s)
	case types.KindDelete:
		return v.VisitDelete(s)
	case types.KindSelect:
		return v.VisitSelect(s)
	case types.KindAggregate:
		return v.VisitAggregate(s)
	case types.KindValidate:
		return v.VisitValidate(s)
	case types.KindDuplicateCheck:
		return v.VisitDuplicateCheck(s)
	case types.KindFKResolve:
		return v.VisitFKResolve(s)
	case types.KindNotify:
		return v.VisitNotify(s)
	case types.KindJSONBuild:
		return v.VisitJSONBuild(s)
	case types.KindCallFunction:
		return v.VisitCallFunction(s)
	case types.KindCallService:
		return v.VisitCallService(s)
	case types.KindRefresh:
		return v.VisitRefresh(s)
	case types.KindIf:
		return v.VisitIf(s)
	case types.KindSwitch:
		return v.VisitSwitch(s)
	case types.KindWhile:
		return v.VisitWhile(s)
	case types.KindForQuery:
		return v.VisitForQuery(s)
	case types.KindForeach:
		return v.VisitForeach(s)
	case types.KindCTE:
		return v.VisitCTE(s)
	case types.KindException:
		return v.VisitException(s)
	case types.KindCursorDeclare:
		return v.VisitCursorDeclare(s)
	case types.KindCursorOpen:
		return v.VisitCursorOpen(s)
	case types.KindCursorFetch:
		return v.VisitCursorFetch(s)
	case types.KindCursorClose:
		return v.VisitCursorClose(s)
	case types.KindContinue:
		return v.VisitContinue(s)
	case types.KindExit:
		return v.VisitExit(s)
	case types.KindFallback:
		return v.VisitFallback(s)
	default:
		return fmt.Errorf("unknown step kind %d", int(s.Kind))
	}
}
