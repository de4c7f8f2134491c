// internal/emit/goorm/goorm.go

// Package goorm emits IR actions as Go functions over the orm.Runtime
// contract, generated with jennifer so imports and formatting are handled by
// the library and output is deterministic.
package goorm

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/dave/jennifer/jen"
	"github.com/go-openapi/inflect"

	"github.com/solatis/specforge/internal/emit"
	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

const ormPath = "github.com/solatis/specforge/orm"

// Emitter lowers actions to Go source. Stateless; safe for concurrent use.
type Emitter struct {
	// Package is the generated package name. Defaults to "actions".
	Package string
}

// New returns the Go ORM emitter with default settings.
func New() *Emitter {
	return &Emitter{Package: "actions"}
}

// Backend returns the stable backend name.
func (e *Emitter) Backend() string { return "goorm" }

// Emit renders one action as a single generated Go file.
func (e *Emitter) Emit(action types.Action, reg *schema.Registry) (string, error) {
	pkg := e.Package
	if pkg == "" {
		pkg = "actions"
	}
	f := jen.NewFile(pkg)
	f.HeaderComment("Code generated by specforge. DO NOT EDIT.")

	g := &generator{action: action, reg: reg}
	body, err := g.steps(action.Steps)
	if err != nil {
		return "", err
	}

	stmts := []jen.Code{
		jen.Id("scope").Op(":=").Qual(ormPath, "NewScope").Call(jen.Id("params")),
		jen.Id("_").Op("=").Id("scope"),
	}
	stmts = append(stmts, body...)
	stmts = append(stmts, jen.Return(jen.Nil(), jen.Nil()))

	f.Commentf("%s implements the %s action against the %s entity.",
		inflect.Camelize(action.Name), action.Name, action.Entity)
	f.Func().Id(inflect.Camelize(action.Name)).Params(
		jen.Id("ctx").Qual("context", "Context"),
		jen.Id("rt").Qual(ormPath, "Runtime"),
		jen.Id("params").Qual(ormPath, "Scope"),
	).Params(
		jen.Qual(ormPath, "Scope"),
		jen.Error(),
	).Block(stmts...)

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return "", fmt.Errorf("render %s: %w", action.Name, err)
	}
	return buf.String(), nil
}

// generator accumulates statements for one action. Fresh value bindings get
// numbered names so every `x, err :=` form introduces at least one new
// variable and the generated code compiles in any nesting.
type generator struct {
	action  types.Action
	reg     *schema.Registry
	n       int
	cursors map[string]string // cursor name -> query text
	stmts   []jen.Code
}

func (g *generator) fresh(prefix string) string {
	g.n++
	return fmt.Sprintf("%s%d", prefix, g.n)
}

func (g *generator) add(code ...jen.Code) {
	g.stmts = append(g.stmts, code...)
}

// steps renders a statement list into a fresh accumulator.
func (g *generator) steps(list []types.Step) ([]jen.Code, error) {
	saved := g.stmts
	g.stmts = nil
	for _, s := range list {
		if err := emit.Dispatch(g, s); err != nil {
			g.stmts = saved
			return nil, err
		}
	}
	out := g.stmts
	g.stmts = saved
	if out == nil {
		out = []jen.Code{}
	}
	return out, nil
}

func (g *generator) table(entity string) (string, error) {
	e, ok := g.reg.Entity(entity)
	if !ok {
		return "", &types.CompileError{Action: g.action.Name, Entity: entity, Reason: "entity not found in schema registry"}
	}
	return e.Table(), nil
}

func errCheck() jen.Code {
	return jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Nil(), jen.Err()))
}

// setScope writes a bound value into the action scope.
func setScope(name string, value jen.Code) jen.Code {
	return jen.Id("scope").Index(jen.Lit(name)).Op("=").Add(value)
}

// evalValue emits `vN, err := rt.EvalValue(ctx, expr, scope)` and the error
// check, returning the binding name.
func (g *generator) evalValue(expr string) string {
	v := g.fresh("val")
	g.add(
		jen.List(jen.Id(v), jen.Err()).Op(":=").Id("rt").Dot("EvalValue").Call(
			jen.Id("ctx"), jen.Lit(expr), jen.Id("scope")),
		errCheck(),
	)
	return v
}

func (g *generator) VisitDeclare(s types.Step) error {
	if s.Expr == "" {
		g.add(setScope(s.Name, jen.Nil()))
		return nil
	}
	v := g.evalValue(s.Expr)
	g.add(setScope(s.Name, jen.Id(v)))
	return nil
}

func (g *generator) VisitAssign(s types.Step) error {
	v := g.evalValue(s.Expr)
	g.add(setScope(s.Name, jen.Id(v)))
	return nil
}

func (g *generator) returnStmt(s types.Step) error {
	if s.Expr == "" {
		g.add(jen.Return(jen.Nil(), jen.Nil()))
		return nil
	}
	v := g.evalValue(s.Expr)
	g.add(jen.Return(
		jen.Qual(ormPath, "Scope").Values(jen.Dict{jen.Lit("result"): jen.Id(v)}),
		jen.Nil(),
	))
	return nil
}

func (g *generator) VisitReturn(s types.Step) error      { return g.returnStmt(s) }
func (g *generator) VisitReturnEarly(s types.Step) error { return g.returnStmt(s) }

func (g *generator) exec(stmt string) {
	g.add(
		jen.If(
			jen.Err().Op(":=").Id("rt").Dot("Exec").Call(jen.Id("ctx"), jen.Lit(stmt), jen.Id("scope")),
			jen.Err().Op("!=").Nil(),
		).Block(jen.Return(jen.Nil(), jen.Err())),
	)
}

func (g *generator) VisitInsert(s types.Step) error {
	table, err := g.table(s.Entity)
	if err != nil {
		return err
	}
	cols := make([]string, len(s.Fields))
	vals := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
		vals[i] = f.Expr
	}
	g.exec(fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(vals, ", ")))
	return nil
}

func (g *generator) update(s types.Step, partial bool) error {
	table, err := g.table(s.Entity)
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
	stmt := fmt.Sprintf("UPDATE %s SET %s", table, strings.Join(sets, ", "))
	if s.Where != "" {
		stmt += " WHERE " + s.Where
	}
	g.exec(stmt)
	return nil
}

func (g *generator) VisitUpdate(s types.Step) error        { return g.update(s, false) }
func (g *generator) VisitPartialUpdate(s types.Step) error { return g.update(s, true) }

func (g *generator) VisitDelete(s types.Step) error {
	table, err := g.table(s.Entity)
	if err != nil {
		return err
	}
	stmt := "DELETE FROM " + table
	if s.Where != "" {
		stmt += " WHERE " + s.Where
	}
	g.exec(stmt)
	return nil
}

func (g *generator) selectInto(s types.Step) error {
	table, err := g.table(s.Entity)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT %s FROM %s", s.Expr, table)
	if s.Where != "" {
		query += " WHERE " + s.Where
	}
	v := g.fresh("val")
	g.add(
		jen.List(jen.Id(v), jen.Err()).Op(":=").Id("rt").Dot("SelectValue").Call(
			jen.Id("ctx"), jen.Lit(query), jen.Id("scope")),
		errCheck(),
		setScope(s.Into, jen.Id(v)),
	)
	return nil
}

func (g *generator) VisitSelect(s types.Step) error    { return g.selectInto(s) }
func (g *generator) VisitAggregate(s types.Step) error { return g.selectInto(s) }

func (g *generator) VisitValidate(s types.Step) error {
	ok := g.fresh("ok")
	g.add(
		jen.List(jen.Id(ok), jen.Err()).Op(":=").Id("rt").Dot("Eval").Call(
			jen.Id("ctx"), jen.Lit(s.Expr), jen.Id("scope")),
		errCheck(),
		jen.If(jen.Op("!").Id(ok)).Block(
			jen.Return(jen.Nil(), jen.Qual(ormPath, "Errorf").Call(jen.Lit(s.ErrorCode))),
		),
	)
	return nil
}

func (g *generator) VisitDuplicateCheck(s types.Step) error {
	table, err := g.table(s.Entity)
	if err != nil {
		return err
	}
	conds := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		conds[i] = f.Name + " = " + f.Expr
	}
	ok := g.fresh("exists")
	g.add(
		jen.List(jen.Id(ok), jen.Err()).Op(":=").Id("rt").Dot("Exists").Call(
			jen.Id("ctx"), jen.Lit(table), jen.Lit(strings.Join(conds, " AND ")), jen.Id("scope")),
		errCheck(),
		jen.If(jen.Id(ok)).Block(
			jen.Return(jen.Nil(), jen.Qual(ormPath, "Errorf").Call(jen.Lit(s.ErrorCode))),
		),
	)
	return nil
}

func (g *generator) VisitFKResolve(s types.Step) error {
	table, err := g.table(s.Entity)
	if err != nil {
		return err
	}
	dk, err := g.reg.ResolveDualKey(s.Entity)
	if err != nil {
		return &types.CompileError{Action: g.action.Name, Entity: s.Entity, Reason: "entity has no dual-key mapping"}
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", dk.Internal, table, dk.External, s.Expr)
	v := g.fresh("val")
	g.add(
		jen.List(jen.Id(v), jen.Err()).Op(":=").Id("rt").Dot("SelectValue").Call(
			jen.Id("ctx"), jen.Lit(query), jen.Id("scope")),
		errCheck(),
	)
	if s.ErrorCode != "" {
		g.add(jen.If(jen.Id(v).Op("==").Nil()).Block(
			jen.Return(jen.Nil(), jen.Qual(ormPath, "Errorf").Call(jen.Lit(s.ErrorCode))),
		))
	}
	g.add(setScope(s.Into, jen.Id(v)))
	return nil
}

func (g *generator) VisitNotify(s types.Step) error {
	g.add(
		jen.If(
			jen.Err().Op(":=").Id("rt").Dot("Notify").Call(
				jen.Id("ctx"), jen.Lit(s.Name), jen.Lit(s.Expr), jen.Id("scope")),
			jen.Err().Op("!=").Nil(),
		).Block(jen.Return(jen.Nil(), jen.Err())),
	)
	return nil
}

func (g *generator) VisitJSONBuild(s types.Step) error {
	args := make([]string, 0, len(s.Fields)*2)
	for _, f := range s.Fields {
		args = append(args, "'"+f.Name+"'", f.Expr)
	}
	v := g.evalValue("jsonb_build_object(" + strings.Join(args, ", ") + ")")
	g.add(setScope(s.Into, jen.Id(v)))
	return nil
}

func (g *generator) VisitCallFunction(s types.Step) error {
	call := fmt.Sprintf("SELECT %s(%s)", s.Name, s.Expr)
	if s.Into == "" {
		g.exec(call)
		return nil
	}
	v := g.fresh("val")
	g.add(
		jen.List(jen.Id(v), jen.Err()).Op(":=").Id("rt").Dot("SelectValue").Call(
			jen.Id("ctx"), jen.Lit(call), jen.Id("scope")),
		errCheck(),
		setScope(s.Into, jen.Id(v)),
	)
	return nil
}

func (g *generator) VisitCallService(s types.Step) error {
	if s.Into == "" {
		g.exec(s.Expr)
		return nil
	}
	v := g.fresh("val")
	g.add(
		jen.List(jen.Id(v), jen.Err()).Op(":=").Id("rt").Dot("SelectValue").Call(
			jen.Id("ctx"), jen.Lit(s.Expr), jen.Id("scope")),
		errCheck(),
		setScope(s.Into, jen.Id(v)),
	)
	return nil
}

func (g *generator) VisitRefresh(s types.Step) error {
	g.exec("REFRESH MATERIALIZED VIEW " + s.Name)
	return nil
}

func (g *generator) VisitIf(s types.Step) error {
	thenBody, err := g.steps(s.Then)
	if err != nil {
		return err
	}
	elseBody, err := g.steps(s.Else)
	if err != nil {
		return err
	}
	ok := g.fresh("ok")
	g.add(
		jen.List(jen.Id(ok), jen.Err()).Op(":=").Id("rt").Dot("Eval").Call(
			jen.Id("ctx"), jen.Lit(s.Expr), jen.Id("scope")),
		errCheck(),
	)
	ifStmt := jen.If(jen.Id(ok)).Block(thenBody...)
	if len(s.Else) > 0 {
		ifStmt = ifStmt.Else().Block(elseBody...)
	}
	g.add(ifStmt)
	return nil
}

func (g *generator) VisitSwitch(s types.Step) error {
	// Lower to an if/else-if chain evaluating each case guard in order.
	var chain *jen.Statement
	for _, c := range s.Cases {
		cond := c.Expr
		if s.Expr != "" {
			cond = s.Expr + " = " + c.Expr
		}
		body, err := g.steps(c.Body)
		if err != nil {
			return err
		}
		ok := g.fresh("ok")
		g.add(
			jen.List(jen.Id(ok), jen.Err()).Op(":=").Id("rt").Dot("Eval").Call(
				jen.Id("ctx"), jen.Lit(cond), jen.Id("scope")),
			errCheck(),
		)
		if chain == nil {
			chain = jen.If(jen.Id(ok)).Block(body...)
		} else {
			chain = chain.Else().If(jen.Id(ok)).Block(body...)
		}
	}
	if chain == nil {
		return nil
	}
	if len(s.Default) > 0 {
		body, err := g.steps(s.Default)
		if err != nil {
			return err
		}
		chain = chain.Else().Block(body...)
	}
	g.add(chain)
	return nil
}

func (g *generator) VisitWhile(s types.Step) error {
	body, err := g.steps(s.Body)
	if err != nil {
		return err
	}
	ok := g.fresh("ok")
	loop := []jen.Code{
		jen.List(jen.Id(ok), jen.Err()).Op(":=").Id("rt").Dot("Eval").Call(
			jen.Id("ctx"), jen.Lit(s.Expr), jen.Id("scope")),
		errCheck(),
		jen.If(jen.Op("!").Id(ok)).Block(jen.Break()),
	}
	loop = append(loop, body...)
	g.add(jen.For().Block(loop...))
	return nil
}

func (g *generator) VisitForQuery(s types.Step) error {
	body, err := g.steps(s.Body)
	if err != nil {
		return err
	}
	rows := g.fresh("rows")
	row := g.fresh("row")
	loopBody := append([]jen.Code{setScope(s.Name, jen.Id(row))}, body...)
	g.add(
		jen.List(jen.Id(rows), jen.Err()).Op(":=").Id("rt").Dot("Query").Call(
			jen.Id("ctx"), jen.Lit(s.Query), jen.Id("scope")),
		errCheck(),
		jen.For(jen.List(jen.Id("_"), jen.Id(row)).Op(":=").Range().Id(rows)).Block(loopBody...),
	)
	return nil
}

func (g *generator) VisitForeach(s types.Step) error {
	body, err := g.steps(s.Body)
	if err != nil {
		return err
	}
	rows := g.fresh("items")
	row := g.fresh("item")
	query := fmt.Sprintf("SELECT unnest(%s) AS item", s.Expr)
	loopBody := append([]jen.Code{setScope(s.Name, jen.Id(row).Index(jen.Lit("item")))}, body...)
	g.add(
		jen.List(jen.Id(rows), jen.Err()).Op(":=").Id("rt").Dot("Query").Call(
			jen.Id("ctx"), jen.Lit(query), jen.Id("scope")),
		errCheck(),
		jen.For(jen.List(jen.Id("_"), jen.Id(row)).Op(":=").Range().Id(rows)).Block(loopBody...),
	)
	return nil
}

func (g *generator) VisitCTE(s types.Step) error {
	if len(s.Body) != 1 || (s.Body[0].Kind != types.KindSelect && s.Body[0].Kind != types.KindAggregate) {
		return &types.CompileError{Action: g.action.Name, Reason: "cte body must be a single select or aggregate step"}
	}
	inner := s.Body[0]
	table, err := g.table(inner.Entity)
	if err != nil {
		return err
	}
	kw := "WITH"
	if s.Recursive {
		kw = "WITH RECURSIVE"
	}
	query := fmt.Sprintf("%s %s AS (%s) SELECT %s FROM %s", kw, s.Name, s.Query, inner.Expr, table)
	if inner.Where != "" {
		query += " WHERE " + inner.Where
	}
	v := g.fresh("val")
	g.add(
		jen.List(jen.Id(v), jen.Err()).Op(":=").Id("rt").Dot("SelectValue").Call(
			jen.Id("ctx"), jen.Lit(query), jen.Id("scope")),
		errCheck(),
		setScope(inner.Into, jen.Id(v)),
	)
	return nil
}

func (g *generator) VisitException(s types.Step) error {
	body, err := g.steps(s.Body)
	if err != nil {
		return err
	}
	res := g.fresh("res")
	closureBody := append(body, jen.Return(jen.Nil(), jen.Nil()))
	g.add(
		jen.List(jen.Id(res), jen.Err()).Op(":=").Func().Params().Params(
			jen.Qual(ormPath, "Scope"), jen.Error(),
		).Block(closureBody...).Call(),
	)

	var chain *jen.Statement
	for _, h := range s.Handlers {
		hBody, err := g.steps(h.Body)
		if err != nil {
			return err
		}
		cond := handlerCond(h.Codes)
		if chain == nil {
			chain = jen.If(cond).Block(hBody...)
		} else {
			chain = chain.Else().If(cond).Block(hBody...)
		}
	}
	if chain == nil {
		chain = jen.If(jen.Err().Op("!=").Nil()).Block(jen.Return(jen.Nil(), jen.Err()))
		g.add(chain)
	} else {
		chain = chain.Else().Block(jen.Return(jen.Nil(), jen.Err()))
		g.add(jen.If(jen.Err().Op("!=").Nil()).Block(chain))
	}
	g.add(jen.If(jen.Id(res).Op("!=").Nil()).Block(jen.Return(jen.Id(res), jen.Nil())))
	return nil
}

// handlerCond builds the error-match condition for one catch branch.
// OTHERS matches anything; named categories match their stable codes.
func handlerCond(codes []string) jen.Code {
	var cond *jen.Statement
	for _, c := range codes {
		var one *jen.Statement
		if strings.EqualFold(c, "OTHERS") {
			one = jen.True()
		} else {
			one = jen.Qual(ormPath, "IsCode").Call(jen.Err(), jen.Lit(c))
		}
		if cond == nil {
			cond = one
		} else {
			cond = cond.Op("||").Add(one)
		}
	}
	if cond == nil {
		return jen.True()
	}
	return cond
}

func (g *generator) VisitCursorDeclare(s types.Step) error {
	if g.cursors == nil {
		g.cursors = make(map[string]string)
	}
	g.cursors[s.Name] = s.Query
	return nil
}

func (g *generator) VisitCursorOpen(s types.Step) error {
	query, ok := g.cursors[s.Name]
	if !ok {
		return &types.CompileError{Action: g.action.Name, Reason: "open of undeclared cursor " + s.Name}
	}
	rows := "cur_" + s.Name + "_rows"
	idx := "cur_" + s.Name + "_idx"
	g.add(
		jen.List(jen.Id(rows), jen.Err()).Op(":=").Id("rt").Dot("Query").Call(
			jen.Id("ctx"), jen.Lit(query), jen.Id("scope")),
		errCheck(),
		jen.Id(idx).Op(":=").Lit(0),
		jen.Id("_").Op("=").Id(idx),
	)
	return nil
}

func (g *generator) VisitCursorFetch(s types.Step) error {
	rows := "cur_" + s.Name + "_rows"
	idx := "cur_" + s.Name + "_idx"
	g.add(
		jen.If(jen.Id(idx).Op("<").Len(jen.Id(rows))).Block(
			setScope(s.Into, jen.Id(rows).Index(jen.Id(idx))),
			jen.Id(idx).Op("++"),
		).Else().Block(
			setScope(s.Into, jen.Nil()),
		),
	)
	return nil
}

func (g *generator) VisitCursorClose(s types.Step) error {
	rows := "cur_" + s.Name + "_rows"
	g.add(jen.Id(rows).Op("=").Nil())
	return nil
}

func (g *generator) VisitContinue(s types.Step) error {
	if s.Expr == "" {
		g.add(jen.Continue())
		return nil
	}
	ok := g.fresh("ok")
	g.add(
		jen.List(jen.Id(ok), jen.Err()).Op(":=").Id("rt").Dot("Eval").Call(
			jen.Id("ctx"), jen.Lit(s.Expr), jen.Id("scope")),
		errCheck(),
		jen.If(jen.Id(ok)).Block(jen.Continue()),
	)
	return nil
}

func (g *generator) VisitExit(s types.Step) error {
	if s.Expr == "" {
		g.add(jen.Break())
		return nil
	}
	ok := g.fresh("ok")
	g.add(
		jen.List(jen.Id(ok), jen.Err()).Op(":=").Id("rt").Dot("Eval").Call(
			jen.Id("ctx"), jen.Lit(s.Expr), jen.Id("scope")),
		errCheck(),
		jen.If(jen.Id(ok)).Block(jen.Break()),
	)
	return nil
}

func (g *generator) VisitFallback(s types.Step) error {
	g.add(jen.Return(jen.Nil(), jen.Qual(ormPath, "Errorf").Call(
		jen.Lit("unsupported construct: "+s.Reason))))
	return nil
}
