// internal/detect/detect.go

// Package detect reports higher-level business patterns recognized in a
// parsed action. Detection runs on field-name sets and IR shape only; it is
// independent of parse confidence and never mutates the action.
package detect

import (
	"strings"

	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

// Pattern names reported by the detector.
const (
	AuditTrail   = "audit_trail"
	SoftDelete   = "soft_delete"
	StateMachine = "state_machine"
	MultiTenant  = "multi_tenant"
)

var auditFields = []string{"created_at", "updated_at", "created_by", "updated_by"}

var tenantFields = []string{"tenant_id", "organization_id"}

var stateFields = []string{"status", "state"}

// Detect inspects an action against its entity's field-name set and returns
// the recognized patterns in stable order.
func Detect(action types.Action, fields []string) []types.DetectedPattern {
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}

	patterns := []types.DetectedPattern{}
	if hasAll(set, auditFields) {
		patterns = append(patterns, types.DetectedPattern{Name: AuditTrail, Confidence: 1.0})
	}
	if set["deleted_at"] {
		patterns = append(patterns, types.DetectedPattern{Name: SoftDelete, Confidence: 1.0})
	}
	for _, f := range stateFields {
		if set[f] && branchesOn(action, f) {
			patterns = append(patterns, types.DetectedPattern{Name: StateMachine, Confidence: 0.8})
			break
		}
	}
	for _, f := range tenantFields {
		if set[f] {
			patterns = append(patterns, types.DetectedPattern{Name: MultiTenant, Confidence: 1.0})
			break
		}
	}
	return patterns
}

// ForEntity runs detection against an entity from the schema registry.
func ForEntity(action types.Action, reg *schema.Registry, entity string) []types.DetectedPattern {
	if reg == nil {
		return Detect(action, nil)
	}
	e, ok := reg.Entity(entity)
	if !ok {
		return Detect(action, nil)
	}
	return Detect(action, e.FieldNames())
}

func hasAll(set map[string]bool, names []string) bool {
	for _, n := range names {
		if !set[n] {
			return false
		}
	}
	return true
}

// branchesOn reports whether any branching step's condition references the
// field as a whole word. Variable forms like v_status and NEW.status count.
func branchesOn(action types.Action, field string) bool {
	found := false
	action.WalkSteps(func(s types.Step) {
		if found {
			return
		}
		switch s.Kind {
		case types.KindIf, types.KindSwitch, types.KindWhile, types.KindValidate:
			if refersTo(s.Expr, field) {
				found = true
			}
		}
	})
	return found
}

func refersTo(expr, field string) bool {
	for from := 0; ; {
		i := strings.Index(expr[from:], field)
		if i < 0 {
			return false
		}
		i += from
		after := i + len(field)
		if after >= len(expr) || !isWordByte(expr[after]) {
			return true
		}
		from = after
	}
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
