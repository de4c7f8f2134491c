// internal/reverse/recognize.go
package reverse

/*
 * Statement recognition.
 *
 * Each recognizer matches one canonical statement shape and maps it to its
 * IR step. Anything that matches no shape degrades to an opaque fallback
 * step with a warning; parsing always continues with the next statement.
 */

import (
	"strings"

	"github.com/solatis/specforge/internal/types"
)

// stmt maps one semicolon-terminated statement to a step.
func (st *parseState) stmt(c chunk) (types.Step, error) {
	text := c.text
	switch {
	case text == "RETURN":
		return types.Step{Kind: types.KindReturnEarly, Line: c.line}, nil
	case strings.HasPrefix(text, "RETURN "):
		return types.Step{Kind: types.KindReturnEarly, Expr: text[len("RETURN "):], Line: c.line}, nil
	case strings.HasPrefix(text, "INSERT INTO "):
		return st.insertStmt(c), nil
	case strings.HasPrefix(text, "UPDATE "):
		return st.updateStmt(c), nil
	case strings.HasPrefix(text, "DELETE FROM "):
		return st.deleteStmt(c), nil
	case strings.HasPrefix(text, "PERFORM pg_notify("):
		return st.notifyStmt(c), nil
	case strings.HasPrefix(text, "PERFORM "):
		if name, args, ok := callShape(text[len("PERFORM "):]); ok {
			return types.Step{Kind: types.KindCallFunction, Name: name, Expr: args, Line: c.line}, nil
		}
		return st.fallbackStep(c, "PERFORM", "unrecognized PERFORM target"), nil
	case strings.HasPrefix(text, "EXECUTE "):
		return st.executeStmt(c), nil
	case strings.HasPrefix(text, "REFRESH MATERIALIZED VIEW "):
		return types.Step{
			Kind: types.KindRefresh,
			Name: strings.TrimSpace(text[len("REFRESH MATERIALIZED VIEW "):]),
			Line: c.line,
		}, nil
	case strings.HasPrefix(text, "OPEN "):
		rest := strings.TrimSpace(text[len("OPEN "):])
		if name, args, ok := callShape(rest); ok {
			return types.Step{Kind: types.KindCursorOpen, Name: name, Expr: args, Line: c.line}, nil
		}
		return types.Step{Kind: types.KindCursorOpen, Name: rest, Line: c.line}, nil
	case strings.HasPrefix(text, "FETCH "):
		rest := text[len("FETCH "):]
		if ii := topIndex(rest, " INTO "); ii >= 0 {
			return types.Step{
				Kind: types.KindCursorFetch,
				Name: strings.TrimSpace(rest[:ii]),
				Into: strings.TrimSpace(rest[ii+len(" INTO "):]),
				Line: c.line,
			}, nil
		}
		return st.fallbackStep(c, "FETCH", "fetch without INTO target"), nil
	case strings.HasPrefix(text, "CLOSE "):
		return types.Step{Kind: types.KindCursorClose, Name: strings.TrimSpace(text[len("CLOSE "):]), Line: c.line}, nil
	case text == "CONTINUE":
		return types.Step{Kind: types.KindContinue, Line: c.line}, nil
	case strings.HasPrefix(text, "CONTINUE WHEN "):
		return types.Step{Kind: types.KindContinue, Expr: text[len("CONTINUE WHEN "):], Line: c.line}, nil
	case text == "EXIT":
		return types.Step{Kind: types.KindExit, Line: c.line}, nil
	case strings.HasPrefix(text, "EXIT WHEN "):
		return types.Step{Kind: types.KindExit, Expr: text[len("EXIT WHEN "):], Line: c.line}, nil
	case strings.HasPrefix(text, "WITH "):
		return st.cteStmt(c), nil
	case strings.HasPrefix(text, "SELECT "):
		return st.selectStmt(c), nil
	case strings.HasPrefix(text, "RAISE "):
		return st.fallbackStep(c, "RAISE", "raise outside recognized guard"), nil
	}
	if ai := topIndex(text, " := "); ai > 0 && isIdent(strings.TrimSpace(text[:ai])) {
		name := strings.TrimSpace(text[:ai])
		expr := text[ai+len(" := "):]
		if fields, ok := jsonBuildShape(expr); ok {
			return types.Step{Kind: types.KindJSONBuild, Into: name, Fields: fields, Line: c.line}, nil
		}
		return types.Step{Kind: types.KindAssign, Name: name, Expr: expr, Line: c.line}, nil
	}
	return st.fallbackStep(c, "statement", "unrecognized statement"), nil
}

func (st *parseState) insertStmt(c chunk) types.Step {
	rest := c.text[len("INSERT INTO "):]
	open := strings.Index(rest, " (")
	if open < 0 {
		return st.fallbackStep(c, "INSERT", "unrecognized insert shape")
	}
	table := strings.TrimSpace(rest[:open])
	colsEnd := matchGroup(rest, open+1)
	if colsEnd < 0 {
		return st.fallbackStep(c, "INSERT", "unbalanced column list")
	}
	after := rest[colsEnd+1:]
	if !strings.HasPrefix(after, " VALUES (") {
		return st.fallbackStep(c, "INSERT", "unrecognized insert shape")
	}
	valsOpen := len(" VALUES (") - 1
	valsEnd := matchGroup(after, valsOpen)
	if valsEnd != len(after)-1 {
		return st.fallbackStep(c, "INSERT", "unbalanced value list")
	}
	cols := splitTop(rest[open+2:colsEnd], ", ")
	vals := splitTop(after[valsOpen+1:valsEnd], ", ")
	if len(cols) != len(vals) {
		return st.fallbackStep(c, "INSERT", "column and value counts differ")
	}
	entity, ok := st.entityForTable(table)
	if !ok {
		return st.fallbackStep(c, "INSERT", "unknown table "+table)
	}
	fields := make([]types.FieldValue, len(cols))
	for i := range cols {
		fields[i] = types.FieldValue{Name: strings.TrimSpace(cols[i]), Expr: strings.TrimSpace(vals[i])}
	}
	return types.Step{Kind: types.KindInsert, Entity: entity, Fields: fields, Line: c.line}
}

func (st *parseState) updateStmt(c chunk) types.Step {
	rest := c.text[len("UPDATE "):]
	si := topIndex(rest, " SET ")
	if si < 0 {
		return st.fallbackStep(c, "UPDATE", "unrecognized update shape")
	}
	table := strings.TrimSpace(rest[:si])
	entity, ok := st.entityForTable(table)
	if !ok {
		return st.fallbackStep(c, "UPDATE", "unknown table "+table)
	}
	sets := rest[si+len(" SET "):]
	var where string
	if wi := topIndex(sets, " WHERE "); wi >= 0 {
		where = sets[wi+len(" WHERE "):]
		sets = sets[:wi]
	}
	var fields []types.FieldValue
	partial := true
	for _, entry := range splitTop(sets, ", ") {
		eq := topIndex(entry, " = ")
		if eq < 0 {
			return st.fallbackStep(c, "UPDATE", "unrecognized SET entry")
		}
		col := strings.TrimSpace(entry[:eq])
		expr := strings.TrimSpace(entry[eq+3:])
		if inner, ok := coalesceShape(expr, col); ok {
			expr = inner
		} else {
			partial = false
		}
		fields = append(fields, types.FieldValue{Name: col, Expr: expr})
	}
	kind := types.KindUpdate
	if partial && len(fields) > 0 {
		kind = types.KindPartialUpdate
	} else {
		// mixed shapes read back as a plain update with original expressions
		fields = fields[:0]
		for _, entry := range splitTop(sets, ", ") {
			eq := topIndex(entry, " = ")
			fields = append(fields, types.FieldValue{
				Name: strings.TrimSpace(entry[:eq]),
				Expr: strings.TrimSpace(entry[eq+3:]),
			})
		}
	}
	return types.Step{Kind: kind, Entity: entity, Fields: fields, Where: where, Line: c.line}
}

// coalesceShape matches COALESCE(<expr>, <col>), the partial-update form.
func coalesceShape(expr, col string) (string, bool) {
	if !strings.HasPrefix(expr, "COALESCE(") {
		return "", false
	}
	open := len("COALESCE(") - 1
	if matchGroup(expr, open) != len(expr)-1 {
		return "", false
	}
	parts := splitTop(expr[open+1:len(expr)-1], ", ")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) != col {
		return "", false
	}
	return strings.TrimSpace(parts[0]), true
}

func (st *parseState) deleteStmt(c chunk) types.Step {
	rest := c.text[len("DELETE FROM "):]
	var where string
	if wi := topIndex(rest, " WHERE "); wi >= 0 {
		where = rest[wi+len(" WHERE "):]
		rest = rest[:wi]
	}
	table := strings.TrimSpace(rest)
	entity, ok := st.entityForTable(table)
	if !ok {
		return st.fallbackStep(c, "DELETE", "unknown table "+table)
	}
	return types.Step{Kind: types.KindDelete, Entity: entity, Where: where, Line: c.line}
}

func (st *parseState) notifyStmt(c chunk) types.Step {
	text := c.text
	open := len("PERFORM pg_notify")
	if matchGroup(text, open) != len(text)-1 {
		return st.fallbackStep(c, "pg_notify", "unbalanced notify call")
	}
	parts := splitTop(text[open+1:len(text)-1], ", ")
	if len(parts) < 2 {
		return st.fallbackStep(c, "pg_notify", "notify needs channel and payload")
	}
	channel := strings.TrimSpace(parts[0])
	if len(channel) < 2 || channel[0] != '\'' || channel[len(channel)-1] != '\'' {
		return st.fallbackStep(c, "pg_notify", "channel is not a literal")
	}
	return types.Step{
		Kind: types.KindNotify,
		Name: channel[1 : len(channel)-1],
		Expr: strings.Join(parts[1:], ", "),
		Line: c.line,
	}
}

func (st *parseState) executeStmt(c chunk) types.Step {
	rest := c.text[len("EXECUTE "):]
	s := types.Step{Kind: types.KindCallService, Expr: rest, Line: c.line}
	if ii := topIndex(rest, " INTO "); ii >= 0 {
		target := strings.TrimSpace(rest[ii+len(" INTO "):])
		if isIdent(target) {
			s.Expr = rest[:ii]
			s.Into = target
		}
	}
	return s
}

func (st *parseState) cteStmt(c chunk) types.Step {
	rest := c.text[len("WITH "):]
	recursive := strings.HasPrefix(rest, "RECURSIVE ")
	if recursive {
		rest = rest[len("RECURSIVE "):]
	}
	ai := topIndex(rest, " AS (")
	if ai < 0 {
		return st.fallbackStep(c, "WITH", "unrecognized CTE shape")
	}
	name := strings.TrimSpace(rest[:ai])
	open := ai + len(" AS (") - 1
	end := matchGroup(rest, open)
	if end < 0 {
		return st.fallbackStep(c, "WITH", "unbalanced CTE query")
	}
	query := rest[open+1 : end]
	tail := strings.TrimSpace(rest[end+1:])
	if !strings.HasPrefix(tail, "SELECT ") {
		return st.fallbackStep(c, "WITH", "CTE not followed by a select")
	}
	inner, ok := st.selectCore(tail, c.line, false)
	if !ok {
		return st.fallbackStep(c, "WITH", "unrecognized CTE select")
	}
	return types.Step{
		Kind:      types.KindCTE,
		Name:      name,
		Query:     query,
		Recursive: recursive,
		Body:      []types.Step{inner},
		Line:      c.line,
	}
}

func (st *parseState) selectStmt(c chunk) types.Step {
	s, ok := st.selectCore(c.text, c.line, true)
	if !ok {
		return st.fallbackStep(c, "SELECT", "unrecognized select shape")
	}
	return s
}

// selectCore parses SELECT <expr> INTO <var> [FROM <table> [WHERE <cond>]].
// A select matching an entity's dual-key lookup becomes an fk_resolve; with
// allowFold set, a trailing IS NULL guard folds into its error code.
func (st *parseState) selectCore(text string, line int, allowFold bool) (types.Step, bool) {
	rest := text[len("SELECT "):]
	ii := topIndex(rest, " INTO ")
	if ii < 0 {
		return types.Step{}, false
	}
	expr := rest[:ii]
	after := rest[ii+len(" INTO "):]
	fi := topIndex(after, " FROM ")
	if fi < 0 {
		into := strings.TrimSpace(after)
		if name, args, ok := callShape(expr); ok {
			return types.Step{Kind: types.KindCallFunction, Name: name, Expr: args, Into: into, Line: line}, true
		}
		return types.Step{}, false
	}
	into := strings.TrimSpace(after[:fi])
	tablePart := after[fi+len(" FROM "):]
	var where string
	if wi := topIndex(tablePart, " WHERE "); wi >= 0 {
		where = tablePart[wi+len(" WHERE "):]
		tablePart = tablePart[:wi]
	}
	table := strings.TrimSpace(tablePart)
	entity, ok := st.entityForTable(table)
	if !ok {
		return types.Step{}, false
	}

	if st.reg != nil {
		if dk, err := st.reg.ResolveDualKey(entity); err == nil && expr == dk.Internal {
			if prefix := dk.External + " = "; strings.HasPrefix(where, prefix) {
				s := types.Step{Kind: types.KindFKResolve, Entity: entity, Into: into, Expr: where[len(prefix):], Line: line}
				if allowFold {
					if hdr, ok := st.peek(); ok && hdr.kind == chunkThen && hdr.text == "IF "+into+" IS NULL" {
						if code, ok := st.peekGuardRaiseAt(st.i+1, "END IF"); ok {
							s.ErrorCode = code
							st.i += 3
						}
					}
				}
				return s, true
			}
		}
	}

	kind := types.KindSelect
	if aggregateExpr(expr) {
		kind = types.KindAggregate
	}
	return types.Step{Kind: kind, Entity: entity, Expr: expr, Into: into, Where: where, Line: line}, true
}

func (st *parseState) entityForTable(table string) (string, bool) {
	if st.reg == nil {
		return "", false
	}
	for _, name := range st.reg.Entities() {
		if e, ok := st.reg.Entity(name); ok && e.Table() == table {
			return name, true
		}
	}
	return "", false
}

// jsonBuildShape matches jsonb_build_object('k', v, ...) with literal keys.
func jsonBuildShape(expr string) ([]types.FieldValue, bool) {
	if !strings.HasPrefix(expr, "jsonb_build_object(") {
		return nil, false
	}
	open := len("jsonb_build_object(") - 1
	if matchGroup(expr, open) != len(expr)-1 {
		return nil, false
	}
	inner := expr[open+1 : len(expr)-1]
	if strings.TrimSpace(inner) == "" {
		return []types.FieldValue{}, true
	}
	parts := splitTop(inner, ", ")
	if len(parts)%2 != 0 {
		return nil, false
	}
	fields := make([]types.FieldValue, 0, len(parts)/2)
	for i := 0; i < len(parts); i += 2 {
		key := strings.TrimSpace(parts[i])
		if len(key) < 2 || key[0] != '\'' || key[len(key)-1] != '\'' || strings.Contains(key[1:len(key)-1], "'") {
			return nil, false
		}
		fields = append(fields, types.FieldValue{Name: key[1 : len(key)-1], Expr: strings.TrimSpace(parts[i+1])})
	}
	return fields, true
}

// callShape matches <name>(<args>) where the parens close at the end.
func callShape(s string) (name, args string, ok bool) {
	open := strings.IndexByte(s, '(')
	if open <= 0 {
		return "", "", false
	}
	name = strings.TrimSpace(s[:open])
	if !isIdent(name) {
		return "", "", false
	}
	if matchGroup(s, open) != len(s)-1 {
		return "", "", false
	}
	return name, s[open+1 : len(s)-1], true
}

func aggregateExpr(expr string) bool {
	lower := strings.ToLower(expr)
	for _, marker := range []string{"count(", "sum(", "avg(", "min(", "max(", "_agg(", " over ("} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isWordByte(c) || c == '.' {
			continue
		}
		return false
	}
	return isWordStart(s[0])
}

// firstWordOf returns the leading identifier of a chunk text.
func firstWordOf(s string) string {
	i := 0
	for i < len(s) && isWordByte(s[i]) {
		i++
	}
	return s[:i]
}

// indexWord finds a whole-word occurrence of w in s, or -1.
func indexWord(s, w string) int {
	for from := 0; ; {
		i := strings.Index(s[from:], w)
		if i < 0 {
			return -1
		}
		i += from
		before := i == 0 || !isWordByte(s[i-1])
		after := i+len(w) >= len(s) || !isWordByte(s[i+len(w)])
		if before && after {
			return i
		}
		from = i + len(w)
	}
}

// topIndex finds sub at paren depth zero outside string literals, or -1.
func topIndex(s, sub string) int {
	depth := 0
	inQuote := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote {
			if c == '\'' {
				inQuote = false
			}
			continue
		}
		switch c {
		case '\'':
			inQuote = true
		case '(':
			depth++
		case ')':
			depth--
		default:
			if depth == 0 && strings.HasPrefix(s[i:], sub) {
				return i
			}
		}
	}
	return -1
}

// splitTop splits s on sep occurrences at paren depth zero outside strings.
func splitTop(s, sep string) []string {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inQuote {
			if c == '\'' {
				inQuote = false
			}
			continue
		}
		switch c {
		case '\'':
			inQuote = true
		case '(':
			depth++
		case ')':
			depth--
		default:
			if depth == 0 && strings.HasPrefix(s[i:], sep) {
				parts = append(parts, s[start:i])
				i += len(sep) - 1
				start = i + 1
			}
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// matchGroup returns the index of the ')' matching the '(' at open, or -1.
func matchGroup(s string, open int) int {
	if open < 0 || open >= len(s) || s[open] != '(' {
		return -1
	}
	depth := 0
	inQuote := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inQuote {
			if c == '\'' {
				inQuote = false
			}
			continue
		}
		switch c {
		case '\'':
			inQuote = true
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
