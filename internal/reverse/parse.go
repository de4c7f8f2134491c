// internal/reverse/parse.go

// Package reverse recovers IR actions from procedural SQL source.
//
// Parsing is best-effort with soft degradation: a syntactically valid but
// unrecognized statement becomes an opaque fallback step plus a warning, and
// the parse continues. Malformed input (unbalanced blocks, unterminated
// strings) aborts the unit with a ParseError and returns no result. The
// recognized statement shapes are exactly the shapes the plpgsql emitter
// produces, which is what makes fallback-free actions round-trip.
package reverse

import (
	"sort"
	"strings"

	"github.com/solatis/specforge/internal/schema"
	"github.com/solatis/specforge/internal/types"
)

// Parser reverse-parses procedural SQL into IR. Safe for concurrent use;
// both fields are read-only after construction.
type Parser struct {
	Registry *schema.Registry

	// Policy overrides the confidence penalty table. Nil uses Penalties.
	Policy *PenaltyPolicy
}

// New returns a parser bound to a schema registry.
func New(reg *schema.Registry) *Parser {
	return &Parser{Registry: reg}
}

func (p *Parser) policy() PenaltyPolicy {
	if p.Policy != nil {
		return *p.Policy
	}
	return Penalties
}

// Unit is one function definition extracted from a source file.
type Unit struct {
	Source string
	Line   int // 1-based line of the unit's first byte
}

// Parse parses the first function definition in src. A non-empty entityHint
// names the owning entity directly; otherwise the entity is inferred from the
// tables the body touches, which leaves it empty for bodies that touch none
// (validate-only functions).
func (p *Parser) Parse(src, entityHint string) (*types.ParseResult, error) {
	units, err := Units(src)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, &types.ParseError{Line: 1, Construct: "function", Reason: "no function definition found"}
	}
	return p.parseUnit(units[0], entityHint)
}

// ParseAll parses every function definition in src, aborting on the first
// malformed unit. Callers needing per-unit outcomes use Units and ParseUnit.
func (p *Parser) ParseAll(src string) ([]*types.ParseResult, error) {
	units, err := Units(src)
	if err != nil {
		return nil, err
	}
	results := make([]*types.ParseResult, 0, len(units))
	for _, u := range units {
		r, err := p.ParseUnit(u)
		if err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, nil
}

// Units splits a source file into function definitions. Statements outside
// function bodies (SET, GRANT and the like) are skipped.
func Units(src string) ([]Unit, error) {
	var units []Unit
	line := 1
	start, startLine := -1, 0
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == '\n':
			line++
			i++
		case c == ' ' || c == '\t' || c == '\r':
			i++
		case c == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(src) && src[i+1] == '*':
			depth := 0
			for i < len(src) {
				if src[i] == '/' && i+1 < len(src) && src[i+1] == '*' {
					depth++
					i += 2
					continue
				}
				if src[i] == '*' && i+1 < len(src) && src[i+1] == '/' {
					depth--
					i += 2
					if depth == 0 {
						break
					}
					continue
				}
				if src[i] == '\n' {
					line++
				}
				i++
			}
			if depth != 0 {
				return nil, &types.ParseError{Line: line, Construct: "comment", Reason: "unterminated block comment"}
			}
		case c == '\'':
			if start < 0 {
				start, startLine = i, line
			}
			i++
			for i < len(src) {
				if src[i] == '\n' {
					line++
				}
				if src[i] == '\'' {
					if i+1 < len(src) && src[i+1] == '\'' {
						i += 2
						continue
					}
					i++
					break
				}
				i++
			}
		case c == '$':
			if start < 0 {
				start, startLine = i, line
			}
			tagEnd := i + 1
			for tagEnd < len(src) && isWordByte(src[tagEnd]) {
				tagEnd++
			}
			if tagEnd >= len(src) || src[tagEnd] != '$' {
				i++
				continue
			}
			tag := src[i : tagEnd+1]
			closeIdx := strings.Index(src[tagEnd+1:], tag)
			if closeIdx < 0 {
				return nil, &types.ParseError{Line: line, Construct: "dollar quote", Reason: "unterminated dollar-quoted literal " + tag}
			}
			end := tagEnd + 1 + closeIdx + len(tag)
			line += strings.Count(src[i:end], "\n")
			i = end
			// optional trailing semicolon closes the definition
			for i < len(src) && (src[i] == ' ' || src[i] == '\t' || src[i] == '\r') {
				i++
			}
			if i < len(src) && src[i] == ';' {
				i++
			}
			units = append(units, Unit{Source: src[start:i], Line: startLine})
			start = -1
		case c == ';':
			// a statement with no function body is not a unit
			start = -1
			i++
		default:
			if start < 0 {
				start, startLine = i, line
			}
			i++
		}
	}
	if start >= 0 && strings.TrimSpace(src[start:]) != "" {
		return nil, &types.ParseError{Line: startLine, Construct: "function", Reason: "incomplete function definition"}
	}
	return units, nil
}

// ParseUnit parses one extracted function definition.
func (p *Parser) ParseUnit(u Unit) (*types.ParseResult, error) {
	return p.parseUnit(u, "")
}

func (p *Parser) parseUnit(u Unit, entityHint string) (*types.ParseResult, error) {
	header, body, bodyLine, err := splitEnvelope(u)
	if err != nil {
		return nil, err
	}
	schemaName, name, params, err := parseHeader(header, u.Line)
	if err != nil {
		return nil, err
	}

	chunks, err := scan(body, bodyLine)
	if err != nil {
		return nil, err
	}

	st := &parseState{
		reg:           p.Registry,
		chunks:        chunks,
		bareLoops:     make(map[int]bool),
		foldedCursors: make(map[string]bool),
	}
	steps, err := st.parseBody()
	if err != nil {
		return nil, err
	}

	steps = st.foldCursors(steps)
	classifyReturns(steps)
	steps = st.declSteps(steps)

	entity := entityHint
	if entity == "" {
		entity = inferEntity(steps)
	}
	action := types.NewAction(name, entity, schemaName, params, types.ResultContract{
		Success: []types.FieldValue{{Name: "status", Expr: "'success'"}},
	}, steps)
	action.Result.Errors = action.ErrorCodes()

	return p.score(st, action), nil
}

// splitEnvelope separates the CREATE FUNCTION header from the dollar-quoted
// body and reports the body's starting line.
func splitEnvelope(u Unit) (header, body string, bodyLine int, err error) {
	src := u.Source
	for i := 0; i < len(src); i++ {
		if src[i] != '$' {
			continue
		}
		tagEnd := i + 1
		for tagEnd < len(src) && isWordByte(src[tagEnd]) {
			tagEnd++
		}
		if tagEnd >= len(src) || src[tagEnd] != '$' {
			continue
		}
		tag := src[i : tagEnd+1]
		closeIdx := strings.Index(src[tagEnd+1:], tag)
		if closeIdx < 0 {
			return "", "", 0, &types.ParseError{Line: u.Line, Construct: "dollar quote", Reason: "unterminated function body"}
		}
		header = src[:i]
		body = src[tagEnd+1 : tagEnd+1+closeIdx]
		bodyLine = u.Line + strings.Count(src[:tagEnd+1], "\n")
		return header, body, bodyLine, nil
	}
	return "", "", 0, &types.ParseError{Line: u.Line, Construct: "function", Reason: "no dollar-quoted function body found"}
}

// parseHeader recovers the qualified function name and parameter list.
func parseHeader(header string, line int) (schemaName, name string, params []types.Param, err error) {
	upper := strings.ToUpper(header)
	fi := indexWord(upper, "FUNCTION")
	if fi < 0 {
		return "", "", nil, &types.ParseError{Line: line, Construct: "function", Reason: "missing FUNCTION keyword"}
	}
	rest := strings.TrimSpace(header[fi+len("FUNCTION"):])
	open := strings.IndexByte(rest, '(')
	if open < 0 {
		return "", "", nil, &types.ParseError{Line: line, Construct: "function", Reason: "missing parameter list"}
	}
	qualified := strings.TrimSpace(rest[:open])
	end := matchGroup(rest, open)
	if end < 0 {
		return "", "", nil, &types.ParseError{Line: line, Construct: "function", Reason: "unbalanced parameter list"}
	}
	if dot := strings.LastIndexByte(qualified, '.'); dot >= 0 {
		schemaName, name = qualified[:dot], qualified[dot+1:]
	} else {
		name = qualified
	}
	params = []types.Param{}
	for _, raw := range splitTop(rest[open+1:end], ",") {
		raw = normalizeSpace(raw)
		if raw == "" {
			continue
		}
		if di := topIndex(strings.ToUpper(raw), " DEFAULT "); di >= 0 {
			raw = strings.TrimSpace(raw[:di])
		}
		fields := strings.SplitN(raw, " ", 2)
		if strings.EqualFold(fields[0], "IN") && len(fields) == 2 {
			fields = strings.SplitN(fields[1], " ", 2)
		}
		if len(fields) != 2 {
			return "", "", nil, &types.ParseError{Line: line, Construct: "parameter", Reason: "malformed parameter " + raw}
		}
		params = append(params, types.Param{Name: fields[0], Type: fields[1]})
	}
	return schemaName, name, params, nil
}

// decl is one DECLARE-section entry in source order.
type decl struct {
	name, typ, def string
	cursor         bool
	query          string
	line           int
}

// parseState carries mutable parse progress for one unit.
type parseState struct {
	reg    *schema.Registry
	chunks []chunk
	i      int

	decls         []decl
	warnings      []types.Warning
	bareLoops     map[int]bool // lines of LOOPs with no condition
	foldedCursors map[string]bool
	folds         int
}

func (st *parseState) peek() (chunk, bool) {
	if st.i < len(st.chunks) {
		return st.chunks[st.i], true
	}
	return chunk{}, false
}

func (st *parseState) next() chunk {
	c := st.chunks[st.i]
	st.i++
	return c
}

func (st *parseState) warn(line int, construct, reason string) {
	st.warnings = append(st.warnings, types.Warning{Line: line, Construct: construct, Reason: reason})
}

// fallbackStep records an opaque step plus its mandatory warning.
func (st *parseState) fallbackStep(c chunk, construct, reason string) types.Step {
	st.warn(c.line, construct, reason)
	raw := c.text
	if c.kind == chunkStmt {
		raw += ";"
	}
	return types.Step{Kind: types.KindFallback, Raw: raw, Reason: reason, Line: c.line}
}

// parseBody consumes the optional DECLARE section, the outer BEGIN/END
// block, and rejects trailing content.
func (st *parseState) parseBody() ([]types.Step, error) {
	c, ok := st.peek()
	if !ok {
		return nil, &types.ParseError{Line: 1, Construct: "function", Reason: "empty function body"}
	}
	if c.kind == chunkWord && strings.EqualFold(c.text, "DECLARE") {
		st.next()
		if err := st.parseDecls(&st.decls); err != nil {
			return nil, err
		}
	}
	c, ok = st.peek()
	if !ok || c.kind != chunkWord || !strings.EqualFold(c.text, "BEGIN") {
		return nil, &types.ParseError{Line: c.line, Construct: "block", Reason: "function body must start with BEGIN"}
	}
	st.next()
	steps, _, err := st.block(stops("END"))
	if err != nil {
		return nil, err
	}
	if c, ok := st.peek(); ok {
		return nil, &types.ParseError{Line: c.line, Construct: "block", Reason: "statements after function end"}
	}
	return steps, nil
}

// parseDecls consumes declaration statements up to (not including) BEGIN.
func (st *parseState) parseDecls(out *[]decl) error {
	for {
		c, ok := st.peek()
		if !ok {
			return &types.ParseError{Line: 0, Construct: "declare", Reason: "declarations not followed by BEGIN"}
		}
		if c.kind == chunkWord && strings.EqualFold(c.text, "BEGIN") {
			return nil
		}
		if c.kind != chunkStmt {
			return &types.ParseError{Line: c.line, Construct: "declare", Reason: "malformed declaration"}
		}
		st.next()
		d := decl{line: c.line}
		text := c.text
		if ci := topIndex(text, " CURSOR FOR "); ci >= 0 {
			d.name = strings.TrimSpace(text[:ci])
			d.query = strings.TrimSpace(text[ci+len(" CURSOR FOR "):])
			d.cursor = true
		} else {
			left := text
			if ai := topIndex(text, " := "); ai >= 0 {
				left = text[:ai]
				d.def = strings.TrimSpace(text[ai+4:])
			}
			fields := strings.SplitN(strings.TrimSpace(left), " ", 2)
			if len(fields) != 2 {
				return &types.ParseError{Line: c.line, Construct: "declare", Reason: "malformed declaration " + text}
			}
			d.name, d.typ = fields[0], fields[1]
		}
		*out = append(*out, d)
	}
}

func stops(labels ...string) map[string]bool {
	m := make(map[string]bool, len(labels))
	for _, l := range labels {
		m[l] = true
	}
	return m
}

// terminatorLabel classifies a chunk as a block terminator, or "".
func terminatorLabel(c chunk) string {
	switch c.kind {
	case chunkStmt:
		switch strings.ToUpper(c.text) {
		case "END", "END IF", "END LOOP", "END CASE":
			return strings.ToUpper(c.text)
		}
	case chunkWord:
		switch strings.ToUpper(c.text) {
		case "ELSE", "EXCEPTION":
			return strings.ToUpper(c.text)
		}
	case chunkThen:
		first := strings.ToUpper(firstWordOf(c.text))
		if first == "WHEN" || first == "ELSIF" {
			return first
		}
	}
	return ""
}

// block parses statements until one of the stop terminators. END-style and
// ELSE/EXCEPTION terminators are consumed; WHEN and ELSIF are left for the
// caller, which needs the header text.
func (st *parseState) block(stop map[string]bool) ([]types.Step, string, error) {
	steps := []types.Step{}
	for {
		c, ok := st.peek()
		if !ok {
			return nil, "", &types.ParseError{Line: lastLine(st.chunks), Construct: "block", Reason: "unterminated block"}
		}
		if label := terminatorLabel(c); label != "" {
			if !stop[label] {
				return nil, "", &types.ParseError{Line: c.line, Construct: "block", Reason: "unexpected " + label}
			}
			if label != "WHEN" && label != "ELSIF" {
				st.next()
			}
			return steps, label, nil
		}
		parsed, err := st.construct()
		if err != nil {
			return nil, "", err
		}
		steps = append(steps, parsed...)
	}
}

func lastLine(chunks []chunk) int {
	if len(chunks) == 0 {
		return 1
	}
	return chunks[len(chunks)-1].line
}

// construct parses one statement or block construct.
func (st *parseState) construct() ([]types.Step, error) {
	c := st.next()
	switch c.kind {
	case chunkStmt:
		s, err := st.stmt(c)
		if err != nil {
			return nil, err
		}
		return []types.Step{s}, nil
	case chunkThen:
		if strings.HasPrefix(strings.ToUpper(c.text), "IF ") {
			s, err := st.ifConstruct(strings.TrimSpace(c.text[3:]), c.line)
			if err != nil {
				return nil, err
			}
			return []types.Step{s}, nil
		}
		return nil, &types.ParseError{Line: c.line, Construct: "block", Reason: "unexpected " + firstWordOf(c.text)}
	case chunkLoop:
		s, err := st.loopConstruct(c)
		if err != nil {
			return nil, err
		}
		return []types.Step{s}, nil
	case chunkCase:
		s, err := st.caseConstruct(c)
		if err != nil {
			return nil, err
		}
		return []types.Step{s}, nil
	case chunkWord:
		switch strings.ToUpper(c.text) {
		case "BEGIN":
			return st.beginConstruct(c, nil)
		case "DECLARE":
			var local []decl
			if err := st.parseDecls(&local); err != nil {
				return nil, err
			}
			b, ok := st.peek()
			if !ok || b.kind != chunkWord || !strings.EqualFold(b.text, "BEGIN") {
				return nil, &types.ParseError{Line: c.line, Construct: "declare", Reason: "declarations not followed by BEGIN"}
			}
			st.next()
			return st.beginConstruct(b, local)
		}
	}
	return nil, &types.ParseError{Line: c.line, Construct: "block", Reason: "unexpected " + c.text}
}

// ifConstruct parses an IF block, folding the guard shapes back into their
// dedicated steps when the body is a lone RAISE.
func (st *parseState) ifConstruct(cond string, line int) (types.Step, error) {
	if code, ok := st.peekGuardRaise("END IF"); ok {
		if inner, ok := notGroup(cond); ok {
			st.consumeGuardRaise()
			return types.Step{Kind: types.KindValidate, Expr: inner, ErrorCode: code, Line: line}, nil
		}
		if s, ok := st.existsGuard(cond, code, line); ok {
			st.consumeGuardRaise()
			return s, nil
		}
	}

	then, label, err := st.block(stops("ELSE", "ELSIF", "END IF"))
	if err != nil {
		return types.Step{}, err
	}
	s := types.Step{Kind: types.KindIf, Expr: cond, Then: then, Line: line}
	switch label {
	case "ELSE":
		s.Else, _, err = st.block(stops("END IF"))
		if err != nil {
			return types.Step{}, err
		}
	case "ELSIF":
		c := st.next()
		nested, err := st.ifConstruct(strings.TrimSpace(c.text[len("ELSIF "):]), c.line)
		if err != nil {
			return types.Step{}, err
		}
		s.Else = []types.Step{nested}
	}
	return s, nil
}

// peekGuardRaise reports whether the next two chunks are a lone
// RAISE EXCEPTION statement followed by the given block end.
func (st *parseState) peekGuardRaise(end string) (string, bool) {
	return st.peekGuardRaiseAt(st.i, end)
}

func (st *parseState) peekGuardRaiseAt(i int, end string) (string, bool) {
	if i+1 >= len(st.chunks) {
		return "", false
	}
	raise, endc := st.chunks[i], st.chunks[i+1]
	if raise.kind != chunkStmt || endc.kind != chunkStmt || !strings.EqualFold(endc.text, end) {
		return "", false
	}
	return raiseCode(raise.text)
}

func (st *parseState) consumeGuardRaise() {
	st.i += 2
}

// raiseCode extracts the code literal from RAISE EXCEPTION '<code>'.
func raiseCode(text string) (string, bool) {
	const prefix = "RAISE EXCEPTION '"
	if !strings.HasPrefix(text, prefix) || !strings.HasSuffix(text, "'") {
		return "", false
	}
	code := text[len(prefix) : len(text)-1]
	if strings.Contains(code, "'") {
		return "", false
	}
	return code, true
}

// notGroup matches NOT (<expr>) where the parens form one balanced group.
func notGroup(cond string) (string, bool) {
	if !strings.HasPrefix(cond, "NOT (") {
		return "", false
	}
	rest := cond[4:]
	if matchGroup(rest, 0) != len(rest)-1 {
		return "", false
	}
	return rest[1 : len(rest)-1], true
}

// existsGuard matches EXISTS (SELECT 1 FROM <table> WHERE <conds>) against a
// known entity table and folds it into a duplicate_check step.
func (st *parseState) existsGuard(cond, code string, line int) (types.Step, bool) {
	if !strings.HasPrefix(cond, "EXISTS (") {
		return types.Step{}, false
	}
	rest := cond[7:]
	if matchGroup(rest, 0) != len(rest)-1 {
		return types.Step{}, false
	}
	inner := rest[1 : len(rest)-1]
	if !strings.HasPrefix(inner, "SELECT 1 FROM ") {
		return types.Step{}, false
	}
	inner = inner[len("SELECT 1 FROM "):]
	wi := topIndex(inner, " WHERE ")
	if wi < 0 {
		return types.Step{}, false
	}
	entity, ok := st.entityForTable(strings.TrimSpace(inner[:wi]))
	if !ok {
		return types.Step{}, false
	}
	var fields []types.FieldValue
	for _, c := range splitTop(inner[wi+len(" WHERE "):], " AND ") {
		eq := topIndex(c, " = ")
		if eq < 0 {
			return types.Step{}, false
		}
		fields = append(fields, types.FieldValue{
			Name: strings.TrimSpace(c[:eq]),
			Expr: strings.TrimSpace(c[eq+3:]),
		})
	}
	return types.Step{Kind: types.KindDuplicateCheck, Entity: entity, Fields: fields, ErrorCode: code, Line: line}, true
}

func (st *parseState) loopConstruct(c chunk) (types.Step, error) {
	text := c.text
	switch {
	case text == "":
		body, _, err := st.block(stops("END LOOP"))
		if err != nil {
			return types.Step{}, err
		}
		st.bareLoops[c.line] = true
		return types.Step{Kind: types.KindWhile, Expr: "true", Body: body, Line: c.line}, nil
	case strings.HasPrefix(text, "WHILE "):
		body, _, err := st.block(stops("END LOOP"))
		if err != nil {
			return types.Step{}, err
		}
		return types.Step{Kind: types.KindWhile, Expr: text[len("WHILE "):], Body: body, Line: c.line}, nil
	case strings.HasPrefix(text, "FOREACH "):
		rest := text[len("FOREACH "):]
		ii := topIndex(rest, " IN ARRAY ")
		if ii < 0 {
			break
		}
		body, _, err := st.block(stops("END LOOP"))
		if err != nil {
			return types.Step{}, err
		}
		return types.Step{
			Kind: types.KindForeach,
			Name: strings.TrimSpace(rest[:ii]),
			Expr: strings.TrimSpace(rest[ii+len(" IN ARRAY "):]),
			Body: body,
			Line: c.line,
		}, nil
	case strings.HasPrefix(text, "FOR "):
		rest := text[len("FOR "):]
		ii := topIndex(rest, " IN ")
		if ii < 0 {
			break
		}
		body, _, err := st.block(stops("END LOOP"))
		if err != nil {
			return types.Step{}, err
		}
		return types.Step{
			Kind:  types.KindForQuery,
			Name:  strings.TrimSpace(rest[:ii]),
			Query: strings.TrimSpace(rest[ii+len(" IN "):]),
			Body:  body,
			Line:  c.line,
		}, nil
	}
	// unrecognized loop header: keep the body, degrade the header
	body, _, err := st.block(stops("END LOOP"))
	if err != nil {
		return types.Step{}, err
	}
	st.warn(c.line, "loop", "unrecognized loop header")
	return types.Step{Kind: types.KindWhile, Expr: "true", Body: append([]types.Step{
		{Kind: types.KindFallback, Raw: "-- " + text, Reason: "unrecognized loop header", Line: c.line},
	}, body...), Line: c.line}, nil
}

func (st *parseState) caseConstruct(c chunk) (types.Step, error) {
	s := types.Step{
		Kind: types.KindSwitch,
		Expr: strings.TrimSpace(strings.TrimPrefix(c.text, "CASE")),
		Line: c.line,
	}
	for {
		w, ok := st.peek()
		if !ok {
			return types.Step{}, &types.ParseError{Line: c.line, Construct: "case", Reason: "unterminated CASE"}
		}
		if terminatorLabel(w) != "WHEN" {
			return types.Step{}, &types.ParseError{Line: w.line, Construct: "case", Reason: "expected WHEN branch"}
		}
		st.next()
		body, label, err := st.block(stops("WHEN", "ELSE", "END CASE"))
		if err != nil {
			return types.Step{}, err
		}
		s.Cases = append(s.Cases, types.SwitchCase{
			Expr: strings.TrimSpace(w.text[len("WHEN "):]),
			Body: body,
		})
		if label == "WHEN" {
			continue
		}
		if label == "ELSE" {
			s.Default, _, err = st.block(stops("END CASE"))
			if err != nil {
				return types.Step{}, err
			}
		}
		return s, nil
	}
}

// beginConstruct parses a nested BEGIN block. With an EXCEPTION section it
// becomes an exception step; a plain block splices its statements inline.
// Local declarations become explicit declare steps at the block head.
func (st *parseState) beginConstruct(c chunk, local []decl) ([]types.Step, error) {
	body, label, err := st.block(stops("END", "EXCEPTION"))
	if err != nil {
		return nil, err
	}
	head := make([]types.Step, 0, len(local))
	for _, d := range local {
		if d.cursor {
			head = append(head, types.Step{Kind: types.KindCursorDeclare, Name: d.name, Query: d.query, Line: d.line})
		} else {
			head = append(head, types.Step{Kind: types.KindDeclare, Name: d.name, DataType: d.typ, Expr: d.def, Line: d.line})
		}
	}
	if label == "END" {
		return append(head, body...), nil
	}

	s := types.Step{Kind: types.KindException, Body: append(head, body...), Line: c.line}
	for {
		w, ok := st.peek()
		if !ok {
			return nil, &types.ParseError{Line: c.line, Construct: "exception", Reason: "unterminated exception block"}
		}
		if terminatorLabel(w) != "WHEN" {
			return nil, &types.ParseError{Line: w.line, Construct: "exception", Reason: "expected WHEN handler"}
		}
		st.next()
		hbody, label, err := st.block(stops("WHEN", "END"))
		if err != nil {
			return nil, err
		}
		s.Handlers = append(s.Handlers, types.CatchBranch{
			Codes: splitTop(strings.TrimSpace(w.text[len("WHEN "):]), " OR "),
			Body:  hbody,
		})
		if label == "WHEN" {
			continue
		}
		return []types.Step{s}, nil
	}
}

// foldCursors rewrites the open / fetch-loop / close lifecycle into a single
// for_query step over the cursor's declared query. Parameterized opens are
// kept explicit.
func (st *parseState) foldCursors(steps []types.Step) []types.Step {
	out := make([]types.Step, 0, len(steps))
	for i := 0; i < len(steps); i++ {
		s := steps[i]
		if s.Kind == types.KindCursorOpen && s.Expr == "" && i+2 < len(steps) {
			loop, cl := steps[i+1], steps[i+2]
			if q, ok := st.cursorQuery(s.Name); ok &&
				loop.Kind == types.KindWhile && loop.Expr == "true" && len(loop.Body) >= 2 &&
				loop.Body[0].Kind == types.KindCursorFetch && loop.Body[0].Name == s.Name &&
				loop.Body[1].Kind == types.KindExit && strings.EqualFold(loop.Body[1].Expr, "NOT FOUND") &&
				cl.Kind == types.KindCursorClose && cl.Name == s.Name {
				out = append(out, types.Step{
					Kind:  types.KindForQuery,
					Name:  loop.Body[0].Into,
					Query: q,
					Body:  st.foldCursors(loop.Body[2:]),
					Line:  s.Line,
				})
				st.folds++
				st.foldedCursors[s.Name] = true
				delete(st.bareLoops, loop.Line)
				i += 2
				continue
			}
		}
		s.Then = st.foldCursors(s.Then)
		s.Else = st.foldCursors(s.Else)
		for ci := range s.Cases {
			s.Cases[ci].Body = st.foldCursors(s.Cases[ci].Body)
		}
		s.Default = st.foldCursors(s.Default)
		s.Body = st.foldCursors(s.Body)
		for hi := range s.Handlers {
			s.Handlers[hi].Body = st.foldCursors(s.Handlers[hi].Body)
		}
		out = append(out, s)
	}
	return out
}

func (st *parseState) cursorQuery(name string) (string, bool) {
	for _, d := range st.decls {
		if d.cursor && d.name == name {
			return d.query, true
		}
	}
	return "", false
}

// classifyReturns marks the tail return of the top-level list and of every
// exception try-body as the terminal return; all other returns are early.
func classifyReturns(steps []types.Step) {
	if n := len(steps); n > 0 && steps[n-1].Kind == types.KindReturnEarly {
		steps[n-1].Kind = types.KindReturn
	}
	var walk func(list []types.Step)
	walk = func(list []types.Step) {
		for i := range list {
			s := &list[i]
			if s.Kind == types.KindException {
				if m := len(s.Body); m > 0 && s.Body[m-1].Kind == types.KindReturnEarly {
					s.Body[m-1].Kind = types.KindReturn
				}
			}
			walk(s.Then)
			walk(s.Else)
			for ci := range s.Cases {
				walk(s.Cases[ci].Body)
			}
			walk(s.Default)
			walk(s.Body)
			for hi := range s.Handlers {
				walk(s.Handlers[hi].Body)
			}
		}
	}
	walk(steps)
}

// declSteps rebuilds the explicit declare steps at the head of the step
// list. Declarations the forward path infers from Into targets are dropped;
// re-emission re-infers them from the same registry.
func (st *parseState) declSteps(steps []types.Step) []types.Step {
	into := make(map[string]bool)
	foreachVars := make(map[string]bool)
	assigned := make(map[string]bool)
	a := types.Action{Steps: steps}
	a.WalkSteps(func(s types.Step) {
		switch s.Kind {
		case types.KindFKResolve, types.KindSelect, types.KindAggregate,
			types.KindJSONBuild, types.KindCallFunction, types.KindCallService,
			types.KindCursorFetch:
			if s.Into != "" {
				into[s.Into] = true
			}
		case types.KindForeach:
			foreachVars[s.Name] = true
		case types.KindAssign:
			assigned[s.Name] = true
		case types.KindCTE:
			for _, inner := range s.Body {
				if inner.Into != "" {
					into[inner.Into] = true
				}
			}
		}
	})

	var head []types.Step
	for _, d := range st.decls {
		switch {
		case d.cursor:
			if !st.foldedCursors[d.name] {
				head = append(head, types.Step{Kind: types.KindCursorDeclare, Name: d.name, Query: d.query, Line: d.line})
			}
		case d.def != "":
			head = append(head, types.Step{Kind: types.KindDeclare, Name: d.name, DataType: d.typ, Expr: d.def, Line: d.line})
		case into[d.name] || foreachVars[d.name]:
			// inferred on emission
		case assigned[d.name] && d.typ == "text":
			// inferred on emission
		default:
			head = append(head, types.Step{Kind: types.KindDeclare, Name: d.name, DataType: d.typ, Line: d.line})
		}
	}
	return append(head, steps...)
}

// inferEntity recovers the owning entity: the first mutated entity wins,
// then the first read entity, then the first foreign-key target.
func inferEntity(steps []types.Step) string {
	var mut, read, fk string
	a := types.Action{Steps: steps}
	a.WalkSteps(func(s types.Step) {
		switch s.Kind {
		case types.KindInsert, types.KindUpdate, types.KindPartialUpdate, types.KindDelete:
			if mut == "" {
				mut = s.Entity
			}
		case types.KindSelect, types.KindAggregate, types.KindDuplicateCheck:
			if read == "" {
				read = s.Entity
			}
		case types.KindFKResolve:
			if fk == "" {
				fk = s.Entity
			}
		}
	})
	if mut != "" {
		return mut
	}
	if read != "" {
		return read
	}
	return fk
}

// score derives the confidence and final warning list.
func (p *Parser) score(st *parseState, action types.Action) *types.ParseResult {
	pol := p.policy()
	conf := 1.0

	action.WalkSteps(func(s types.Step) {
		switch s.Kind {
		case types.KindFallback:
			conf -= pol.Fallback
		case types.KindCallService:
			if strings.Contains(s.Expr, "||") || strings.Contains(s.Expr, "format(") {
				st.warn(s.Line, "EXECUTE", "string-built dynamic SQL")
			}
		}
	})
	conf -= float64(st.folds) * pol.CursorLifecycle
	lines := make([]int, 0, len(st.bareLoops))
	for line := range st.bareLoops {
		lines = append(lines, line)
	}
	sort.Ints(lines)
	for _, line := range lines {
		conf -= pol.BareLoop
		st.warn(line, "LOOP", "loop without condition")
	}
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	warnings := st.warnings
	if warnings == nil {
		warnings = []types.Warning{}
	}
	return &types.ParseResult{
		IR:               action,
		Confidence:       conf,
		DetectedPatterns: []types.DetectedPattern{},
		Warnings:         warnings,
	}
}
