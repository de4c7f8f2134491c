// internal/emit/plpgsql/plpgsql.go

// Package plpgsql emits IR actions as PL/pgSQL function source.
//
// Statement shapes are canonical: the reverse parser recognizes exactly these
// forms, which is what makes fallback-free actions round-trip. Changing a
// shape here requires the matching change in internal/reverse.
package plpgsql

import (
	"fmt"
	"strings"

	"github.com/solatis/specforge/internal/emit"
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

// Emitter lowers actions to PL/pgSQL. Stateless; safe for concurrent use.
type Emitter struct{}

// New returns the PL/pgSQL emitter.
func New() *Emitter {
	return &Emitter{}
}

// Backend returns the stable backend name.
func (e *Emitter) Backend() string { return "plpgsql" }

// Emit renders one action as a CREATE OR REPLACE FUNCTION statement.
func (e *Emitter) Emit(action types.Action, reg *schema.Registry) (string, error) {
	w := &writer{action: action, reg: reg, scope: emit.NewScope()}

	if err := w.checkReferences(); err != nil {
		return "", err
	}

	name := action.Name
	if action.Schema != "" {
		name = action.Schema + "." + name
	}

	params := make([]string, len(action.Params))
	for i, p := range action.Params {
		params[i] = p.Name + " " + p.Type
	}

	w.linef("CREATE OR REPLACE FUNCTION %s(%s)", name, strings.Join(params, ", "))
	w.line("RETURNS jsonb")
	w.line("LANGUAGE plpgsql")
	w.line("AS $$")

	decls := emit.Declarations(action, reg)
	if len(decls) > 0 {
		w.line("DECLARE")
		w.indent++
		for _, d := range decls {
			if d.Cursor {
				w.linef("%s CURSOR FOR %s;", d.Name, d.Query)
			} else if d.Default != "" {
				w.linef("%s %s := %s;", d.Name, d.Type, d.Default)
			} else {
				w.linef("%s %s;", d.Name, d.Type)
			}
			w.scope.Define(d.Name, d.Type)
		}
		w.indent--
	}

	w.line("BEGIN")
	w.indent++
	if err := w.visitSteps(action.Steps); err != nil {
		return "", err
	}
	w.indent--
	w.line("END;")
	w.line("$$;")

	return w.sb.String(), nil
}

// writer carries emission state for one action.
type writer struct {
	action types.Action
	reg    *schema.Registry
	scope  *emit.Scope
	sb     strings.Builder
	indent int
}

func (w *writer) line(s string) {
	for i := 0; i < w.indent; i++ {
		w.sb.WriteString("    ")
	}
	w.sb.WriteString(s)
	w.sb.WriteByte('\n')
}

func (w *writer) linef(format string, args ...any) {
	w.line(fmt.Sprintf(format, args...))
}

func (w *writer) visitSteps(steps []types.Step) error {
	for _, s := range steps {
		if err := emit.Dispatch(w, s); err != nil {
			return err
		}
	}
	return nil
}

// entity resolves an entity reference or fails with a CompileError.
func (w *writer) entity(name string) (schema.Entity, error) {
	e, ok := w.reg.Entity(name)
	if !ok {
		return schema.Entity{}, &types.CompileError{
			Action: w.action.Name,
			Entity: name,
			Reason: "entity not found in schema registry",
		}
	}
	return e, nil
}

// checkReferences validates every field reference in the action up front so
// emission never produces partial output for a broken action.
func (w *writer) checkReferences() error {
	var failure error
	w.action.WalkSteps(func(s types.Step) {
		if failure != nil {
			return
		}
		switch s.Kind {
		case types.KindInsert, types.KindUpdate, types.KindPartialUpdate, types.KindDuplicateCheck:
			e, ok := w.reg.Entity(s.Entity)
			if !ok {
				failure = &types.CompileError{Action: w.action.Name, Entity: s.Entity, Reason: "entity not found in schema registry"}
				return
			}
			for _, f := range s.Fields {
				if !e.HasField(f.Name) {
					failure = &types.CompileError{Action: w.action.Name, Field: f.Name, Reason: "field not found on entity " + s.Entity}
					return
				}
			}
		case types.KindDelete, types.KindFKResolve:
			if _, ok := w.reg.Entity(s.Entity); !ok {
				failure = &types.CompileError{Action: w.action.Name, Entity: s.Entity, Reason: "entity not found in schema registry"}
			}
		}
	})
	return failure
}

// Declarations and cursor declarations are hoisted into the DECLARE header.
func (w *writer) VisitDeclare(types.Step) error       { return nil }
func (w *writer) VisitCursorDeclare(types.Step) error { return nil }

func (w *writer) VisitAssign(s types.Step) error {
	w.linef("%s := %s;", s.Name, s.Expr)
	return nil
}

func (w *writer) VisitReturn(s types.Step) error {
	if s.Expr == "" {
		w.line("RETURN;")
	} else {
		w.linef("RETURN %s;", s.Expr)
	}
	return nil
}

func (w *writer) VisitReturnEarly(s types.Step) error {
	return w.VisitReturn(s)
}

func (w *writer) VisitInsert(s types.Step) error {
	e, err := w.entity(s.Entity)
	if err != nil {
		return err
	}
	cols := make([]string, len(s.Fields))
	vals := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
		vals[i] = f.Expr
	}
	w.linef("INSERT INTO %s (%s) VALUES (%s);", e.Table(), strings.Join(cols, ", "), strings.Join(vals, ", "))
	return nil
}

func (w *writer) VisitUpdate(s types.Step) error {
	return w.update(s, false)
}

func (w *writer) VisitPartialUpdate(s types.Step) error {
	return w.update(s, true)
}

func (w *writer) update(s types.Step, partial bool) error {
	e, err := w.entity(s.Entity)
	if err != nil {
		return err
	}
	sets := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		if partial {
			sets[i] = fmt.Sprintf("%s = COALESCE(%s, %s)", f.Name, f.Expr, f.Name)
		} else {
			sets[i] = fmt.Sprintf("%s = %s", f.Name, f.Expr)
		}
	}
	if s.Where != "" {
		w.linef("UPDATE %s SET %s WHERE %s;", e.Table(), strings.Join(sets, ", "), s.Where)
	} else {
		w.linef("UPDATE %s SET %s;", e.Table(), strings.Join(sets, ", "))
	}
	return nil
}

func (w *writer) VisitDelete(s types.Step) error {
	e, err := w.entity(s.Entity)
	if err != nil {
		return err
	}
	if s.Where != "" {
		w.linef("DELETE FROM %s WHERE %s;", e.Table(), s.Where)
	} else {
		w.linef("DELETE FROM %s;", e.Table())
	}
	return nil
}

func (w *writer) selectInto(s types.Step) error {
	e, err := w.entity(s.Entity)
	if err != nil {
		return err
	}
	if s.Where != "" {
		w.linef("SELECT %s INTO %s FROM %s WHERE %s;", s.Expr, s.Into, e.Table(), s.Where)
	} else {
		w.linef("SELECT %s INTO %s FROM %s;", s.Expr, s.Into, e.Table())
	}
	return nil
}

func (w *writer) VisitSelect(s types.Step) error    { return w.selectInto(s) }
func (w *writer) VisitAggregate(s types.Step) error { return w.selectInto(s) }

func (w *writer) VisitValidate(s types.Step) error {
	w.linef("IF NOT (%s) THEN", s.Expr)
	w.indent++
	w.linef("RAISE EXCEPTION '%s';", s.ErrorCode)
	w.indent--
	w.line("END IF;")
	return nil
}

func (w *writer) VisitDuplicateCheck(s types.Step) error {
	e, err := w.entity(s.Entity)
	if err != nil {
		return err
	}
	conds := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		conds[i] = f.Name + " = " + f.Expr
	}
	w.linef("IF EXISTS (SELECT 1 FROM %s WHERE %s) THEN", e.Table(), strings.Join(conds, " AND "))
	w.indent++
	w.linef("RAISE EXCEPTION '%s';", s.ErrorCode)
	w.indent--
	w.line("END IF;")
	return nil
}

func (w *writer) VisitFKResolve(s types.Step) error {
	e, err := w.entity(s.Entity)
	if err != nil {
		return err
	}
	dk, err := w.reg.ResolveDualKey(s.Entity)
	if err != nil {
		return &types.CompileError{Action: w.action.Name, Entity: s.Entity, Reason: "entity has no dual-key mapping"}
	}
	w.linef("SELECT %s INTO %s FROM %s WHERE %s = %s;", dk.Internal, s.Into, e.Table(), dk.External, s.Expr)
	if s.ErrorCode != "" {
		w.linef("IF %s IS NULL THEN", s.Into)
		w.indent++
		w.linef("RAISE EXCEPTION '%s';", s.ErrorCode)
		w.indent--
		w.line("END IF;")
	}
	return nil
}

func (w *writer) VisitNotify(s types.Step) error {
	w.linef("PERFORM pg_notify('%s', %s);", s.Name, s.Expr)
	return nil
}

func (w *writer) VisitJSONBuild(s types.Step) error {
	args := make([]string, 0, len(s.Fields)*2)
	for _, f := range s.Fields {
		args = append(args, "'"+f.Name+"'", f.Expr)
	}
	w.linef("%s := jsonb_build_object(%s);", s.Into, strings.Join(args, ", "))
	return nil
}

func (w *writer) VisitCallFunction(s types.Step) error {
	if s.Into != "" {
		w.linef("SELECT %s(%s) INTO %s;", s.Name, s.Expr, s.Into)
	} else {
		w.linef("PERFORM %s(%s);", s.Name, s.Expr)
	}
	return nil
}

func (w *writer) VisitCallService(s types.Step) error {
	if s.Into != "" {
		w.linef("EXECUTE %s INTO %s;", s.Expr, s.Into)
	} else {
		w.linef("EXECUTE %s;", s.Expr)
	}
	return nil
}

func (w *writer) VisitRefresh(s types.Step) error {
	w.linef("REFRESH MATERIALIZED VIEW %s;", s.Name)
	return nil
}

func (w *writer) VisitIf(s types.Step) error {
	w.linef("IF %s THEN", s.Expr)
	w.indent++
	if err := w.visitSteps(s.Then); err != nil {
		return err
	}
	w.indent--
	if len(s.Else) > 0 {
		w.line("ELSE")
		w.indent++
		if err := w.visitSteps(s.Else); err != nil {
			return err
		}
		w.indent--
	}
	w.line("END IF;")
	return nil
}

func (w *writer) VisitSwitch(s types.Step) error {
	if s.Expr != "" {
		w.linef("CASE %s", s.Expr)
	} else {
		w.line("CASE")
	}
	w.indent++
	for _, c := range s.Cases {
		w.linef("WHEN %s THEN", c.Expr)
		w.indent++
		if err := w.visitSteps(c.Body); err != nil {
			return err
		}
		w.indent--
	}
	if len(s.Default) > 0 {
		w.line("ELSE")
		w.indent++
		if err := w.visitSteps(s.Default); err != nil {
			return err
		}
		w.indent--
	}
	w.indent--
	w.line("END CASE;")
	return nil
}

func (w *writer) VisitWhile(s types.Step) error {
	w.linef("WHILE %s LOOP", s.Expr)
	w.indent++
	if err := w.visitSteps(s.Body); err != nil {
		return err
	}
	w.indent--
	w.line("END LOOP;")
	return nil
}

func (w *writer) VisitForQuery(s types.Step) error {
	w.linef("FOR %s IN %s LOOP", s.Name, s.Query)
	w.indent++
	if err := w.visitSteps(s.Body); err != nil {
		return err
	}
	w.indent--
	w.line("END LOOP;")
	return nil
}

func (w *writer) VisitForeach(s types.Step) error {
	w.linef("FOREACH %s IN ARRAY %s LOOP", s.Name, s.Expr)
	w.indent++
	if err := w.visitSteps(s.Body); err != nil {
		return err
	}
	w.indent--
	w.line("END LOOP;")
	return nil
}

func (w *writer) VisitCTE(s types.Step) error {
	if len(s.Body) != 1 || (s.Body[0].Kind != types.KindSelect && s.Body[0].Kind != types.KindAggregate) {
		return &types.CompileError{
			Action: w.action.Name,
			Reason: "cte body must be a single select or aggregate step",
		}
	}
	kw := "WITH"
	if s.Recursive {
		kw = "WITH RECURSIVE"
	}
	body := s.Body[0]
	e, err := w.entity(body.Entity)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("%s %s AS (%s) SELECT %s INTO %s FROM %s", kw, s.Name, s.Query, body.Expr, body.Into, e.Table())
	if body.Where != "" {
		stmt += " WHERE " + body.Where
	}
	w.line(stmt + ";")
	return nil
}

func (w *writer) VisitException(s types.Step) error {
	w.line("BEGIN")
	w.indent++
	if err := w.visitSteps(s.Body); err != nil {
		return err
	}
	w.indent--
	w.line("EXCEPTION")
	w.indent++
	for _, h := range s.Handlers {
		w.linef("WHEN %s THEN", strings.Join(h.Codes, " OR "))
		w.indent++
		if err := w.visitSteps(h.Body); err != nil {
			return err
		}
		w.indent--
	}
	w.indent--
	w.line("END;")
	return nil
}

func (w *writer) VisitCursorOpen(s types.Step) error {
	if s.Expr != "" {
		w.linef("OPEN %s(%s);", s.Name, s.Expr)
	} else {
		w.linef("OPEN %s;", s.Name)
	}
	return nil
}

func (w *writer) VisitCursorFetch(s types.Step) error {
	w.linef("FETCH %s INTO %s;", s.Name, s.Into)
	return nil
}

func (w *writer) VisitCursorClose(s types.Step) error {
	w.linef("CLOSE %s;", s.Name)
	return nil
}

func (w *writer) VisitContinue(s types.Step) error {
	if s.Expr != "" {
		w.linef("CONTINUE WHEN %s;", s.Expr)
	} else {
		w.line("CONTINUE;")
	}
	return nil
}

func (w *writer) VisitExit(s types.Step) error {
	if s.Expr != "" {
		w.linef("EXIT WHEN %s;", s.Expr)
	} else {
		w.line("EXIT;")
	}
	return nil
}

// VisitFallback re-emits the raw captured text verbatim so reverse-parsed
// actions keep their unrecognized regions intact.
func (w *writer) VisitFallback(s types.Step) error {
	for _, line := range strings.Split(strings.TrimRight(s.Raw, "\n"), "\n") {
		w.line(line)
	}
	return nil
}
