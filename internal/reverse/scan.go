// internal/reverse/scan.go
package reverse

import (
	"strings"

	"github.com/solatis/specforge/internal/types"
)

/*
 * Statement scanner.
 *
 * The scanner turns a function body into a flat chunk sequence the parser
 * consumes with one-chunk lookahead. A chunk is either a semicolon-terminated
 * statement, a block header (IF/WHEN/ELSIF ending in THEN, WHILE/FOR/FOREACH
 * ending in LOOP, CASE up to its first WHEN), or a standalone structural
 * keyword (DECLARE, BEGIN, ELSE, EXCEPTION).
 *
 * Chunk text is whitespace-normalized outside string literals, so a chunk
 * scanned from emitter output reproduces the emitted statement byte for byte.
 * Comments are skipped. Unterminated strings, dollar quotes, or block
 * comments are malformed input and abort the scan with a ParseError.
 */

type chunkKind int

const (
	chunkStmt chunkKind = iota // terminated by ';'
	chunkThen                  // header ending in THEN
	chunkLoop                  // header ending in LOOP; bare LOOP has empty text
	chunkCase                  // CASE switch header, up to its first WHEN
	chunkWord                  // standalone keyword
)

type chunk struct {
	kind chunkKind
	text string
	line int
}

type scanner struct {
	src  string
	pos  int
	line int

	cur       strings.Builder
	curLine   int
	firstWord string // upper-cased first word of the current chunk
	parens    int
	caseDepth int

	chunks []chunk
}

func scan(src string, baseLine int) ([]chunk, error) {
	s := &scanner{src: src, line: baseLine}
	if err := s.run(); err != nil {
		return nil, err
	}
	return s.chunks, nil
}

func (s *scanner) errf(construct, reason string) error {
	return &types.ParseError{Line: s.line, Construct: construct, Reason: reason}
}

// emit closes the current chunk. Empty statement chunks (stray semicolons)
// are dropped.
func (s *scanner) emit(kind chunkKind) {
	text := strings.TrimSpace(s.cur.String())
	if text != "" || kind != chunkStmt {
		s.chunks = append(s.chunks, chunk{kind: kind, text: text, line: s.curLine})
	}
	s.cur.Reset()
	s.firstWord = ""
	s.parens = 0
	s.caseDepth = 0
}

func (s *scanner) append(text string) {
	if s.cur.Len() == 0 {
		s.curLine = s.line
	}
	s.cur.WriteString(text)
}

// space records a whitespace run as a single space.
func (s *scanner) space() {
	str := s.cur.String()
	if str != "" && !strings.HasSuffix(str, " ") {
		s.cur.WriteByte(' ')
	}
}

func (s *scanner) run() error {
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		switch {
		case c == '\n':
			s.line++
			s.space()
			s.pos++
		case c == ' ' || c == '\t' || c == '\r':
			s.space()
			s.pos++
		case c == '-' && s.peek(1) == '-':
			s.skipLineComment()
		case c == '/' && s.peek(1) == '*':
			if err := s.skipBlockComment(); err != nil {
				return err
			}
		case c == '\'':
			if err := s.copyString(); err != nil {
				return err
			}
		case c == '"':
			if err := s.copyQuotedIdent(); err != nil {
				return err
			}
		case c == '$':
			if err := s.copyDollarQuoted(); err != nil {
				return err
			}
		case c == '(':
			s.parens++
			s.append("(")
			s.pos++
		case c == ')':
			s.parens--
			s.append(")")
			s.pos++
		case c == ';' && s.parens == 0:
			s.pos++
			s.emit(chunkStmt)
		case isWordStart(c):
			s.word()
		default:
			s.append(string(c))
			s.pos++
		}
	}
	if strings.TrimSpace(s.cur.String()) != "" {
		return s.errf("statement", "unterminated statement at end of input")
	}
	return nil
}

func (s *scanner) peek(n int) byte {
	if s.pos+n < len(s.src) {
		return s.src[s.pos+n]
	}
	return 0
}

func (s *scanner) skipLineComment() {
	for s.pos < len(s.src) && s.src[s.pos] != '\n' {
		s.pos++
	}
	s.space()
}

// Block comments nest, matching PostgreSQL.
func (s *scanner) skipBlockComment() error {
	depth := 0
	for s.pos < len(s.src) {
		if s.src[s.pos] == '/' && s.peek(1) == '*' {
			depth++
			s.pos += 2
			continue
		}
		if s.src[s.pos] == '*' && s.peek(1) == '/' {
			depth--
			s.pos += 2
			if depth == 0 {
				s.space()
				return nil
			}
			continue
		}
		if s.src[s.pos] == '\n' {
			s.line++
		}
		s.pos++
	}
	return s.errf("comment", "unterminated block comment")
}

// copyString copies a single-quoted literal verbatim, honoring '' escapes.
func (s *scanner) copyString() error {
	start := s.pos
	s.pos++
	for s.pos < len(s.src) {
		if s.src[s.pos] == '\n' {
			s.line++
		}
		if s.src[s.pos] == '\'' {
			if s.peek(1) == '\'' {
				s.pos += 2
				continue
			}
			s.pos++
			s.append(s.src[start:s.pos])
			return nil
		}
		s.pos++
	}
	return s.errf("string literal", "unterminated string literal")
}

func (s *scanner) copyQuotedIdent() error {
	start := s.pos
	s.pos++
	for s.pos < len(s.src) {
		if s.src[s.pos] == '"' {
			s.pos++
			s.append(s.src[start:s.pos])
			return nil
		}
		if s.src[s.pos] == '\n' {
			s.line++
		}
		s.pos++
	}
	return s.errf("identifier", "unterminated quoted identifier")
}

// copyDollarQuoted copies a $tag$...$tag$ literal verbatim. A lone dollar
// that does not open a tag is copied as-is.
func (s *scanner) copyDollarQuoted() error {
	tagEnd := s.pos + 1
	for tagEnd < len(s.src) && isWordByte(s.src[tagEnd]) {
		tagEnd++
	}
	if tagEnd >= len(s.src) || s.src[tagEnd] != '$' {
		s.append("$")
		s.pos++
		return nil
	}
	tag := s.src[s.pos : tagEnd+1]
	closeIdx := strings.Index(s.src[tagEnd+1:], tag)
	if closeIdx < 0 {
		return s.errf("dollar quote", "unterminated dollar-quoted literal "+tag)
	}
	end := tagEnd + 1 + closeIdx + len(tag)
	s.line += strings.Count(s.src[s.pos:end], "\n")
	s.append(s.src[s.pos:end])
	s.pos = end
	return nil
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordByte(c byte) bool {
	return isWordStart(c) || (c >= '0' && c <= '9')
}

// word consumes one identifier or keyword and applies the chunk-boundary
// rules. Keyword breaks only apply at paren depth zero and outside CASE
// expressions; everywhere else the word is plain chunk text.
func (s *scanner) word() {
	start := s.pos
	for s.pos < len(s.src) && isWordByte(s.src[s.pos]) {
		s.pos++
	}
	w := s.src[start:s.pos]
	upper := strings.ToUpper(w)
	empty := strings.TrimSpace(s.cur.String()) == ""

	if s.parens == 0 {
		switch upper {
		case "CASE":
			if !empty {
				s.caseDepth++
			}
		case "END":
			if s.caseDepth > 0 {
				s.caseDepth--
			}
		case "THEN":
			if s.caseDepth == 0 && headerFirstWord(s.firstWord) {
				s.emit(chunkThen)
				return
			}
		case "LOOP":
			if s.caseDepth == 0 && (empty || loopFirstWord(s.firstWord)) {
				s.emit(chunkLoop)
				return
			}
		case "WHEN":
			if s.caseDepth == 0 && s.firstWord == "CASE" {
				s.emit(chunkCase)
				s.append(w)
				s.firstWord = "WHEN"
				return
			}
		case "BEGIN", "DECLARE", "ELSE", "EXCEPTION":
			if empty {
				s.append(w)
				s.emit(chunkWord)
				return
			}
		}
	}

	if empty {
		s.firstWord = upper
	}
	s.append(w)
}

func headerFirstWord(w string) bool {
	return w == "IF" || w == "ELSIF" || w == "WHEN"
}

func loopFirstWord(w string) bool {
	return w == "WHILE" || w == "FOR" || w == "FOREACH"
}
