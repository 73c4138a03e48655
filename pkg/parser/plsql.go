package parser

import "strings"

// SplitPLSQL splits Oracle SQL and PL/SQL text into statements.
//
// Plain SQL statements end at a top-level semicolon. PL/SQL blocks
// (DECLARE/BEGIN bodies, CREATE FUNCTION|PROCEDURE|PACKAGE|TRIGGER|TYPE)
// contain semicolons of their own and end at a line holding only a slash,
// matching sqlplus input conventions. String literals, quoted identifiers,
// and both comment forms are honored when scanning for boundaries.
func SplitPLSQL(raw string) []string {
	s := &plsqlScanner{input: raw}
	return s.scan()
}

type plsqlScanner struct {
	input string
	pos   int

	current strings.Builder
	out     []string
}

func (s *plsqlScanner) scan() []string {
	for s.pos < len(s.input) {
		switch {
		case s.hasPrefix("--"):
			s.consumeLineComment()
		case s.hasPrefix("/*"):
			s.consumeBlockComment()
		case s.peek() == '\'':
			s.consumeQuoted('\'')
		case s.peek() == '"':
			s.consumeQuoted('"')
		case s.peek() == '/' && s.atLineStart() && s.restOfLineIsSlash():
			// sqlplus block terminator
			s.flush()
			s.skipLine()
		case s.peek() == ';' && !s.inBlock():
			// The terminator stays with the statement, as in SplitMySQL.
			s.current.WriteByte(';')
			s.pos++
			s.flush()
		default:
			s.current.WriteByte(s.input[s.pos])
			s.pos++
		}
	}
	s.flush()
	return s.out
}

func (s *plsqlScanner) peek() byte { return s.input[s.pos] }

func (s *plsqlScanner) hasPrefix(p string) bool {
	return strings.HasPrefix(s.input[s.pos:], p)
}

// atLineStart reports whether only whitespace precedes the cursor on the
// current line.
func (s *plsqlScanner) atLineStart() bool {
	for i := s.pos - 1; i >= 0; i-- {
		c := s.input[i]
		if c == '\n' {
			return true
		}
		if c != ' ' && c != '\t' && c != '\r' {
			return false
		}
	}
	return true
}

func (s *plsqlScanner) restOfLineIsSlash() bool {
	i := s.pos + 1
	for i < len(s.input) && s.input[i] != '\n' {
		c := s.input[i]
		if c != ' ' && c != '\t' && c != '\r' {
			return false
		}
		i++
	}
	return true
}

func (s *plsqlScanner) skipLine() {
	for s.pos < len(s.input) && s.input[s.pos] != '\n' {
		s.pos++
	}
	if s.pos < len(s.input) {
		s.pos++
	}
}

func (s *plsqlScanner) consumeLineComment() {
	for s.pos < len(s.input) && s.input[s.pos] != '\n' {
		s.current.WriteByte(s.input[s.pos])
		s.pos++
	}
}

func (s *plsqlScanner) consumeBlockComment() {
	end := strings.Index(s.input[s.pos:], "*/")
	if end < 0 {
		s.current.WriteString(s.input[s.pos:])
		s.pos = len(s.input)
		return
	}
	s.current.WriteString(s.input[s.pos : s.pos+end+2])
	s.pos += end + 2
}

func (s *plsqlScanner) consumeQuoted(q byte) {
	s.current.WriteByte(q)
	s.pos++
	for s.pos < len(s.input) {
		c := s.input[s.pos]
		s.current.WriteByte(c)
		s.pos++
		if c == q {
			// Doubled quote escapes itself.
			if s.pos < len(s.input) && s.input[s.pos] == q {
				s.current.WriteByte(q)
				s.pos++
				continue
			}
			return
		}
	}
}

// inBlock reports whether the statement accumulated so far opens a PL/SQL
// body, which makes semicolons internal until the slash terminator.
func (s *plsqlScanner) inBlock() bool {
	text := strings.ToUpper(strings.TrimSpace(s.current.String()))
	if text == "" {
		return false
	}
	fields := strings.Fields(text)
	switch fields[0] {
	case "DECLARE", "BEGIN":
		return true
	case "CREATE":
		for _, f := range fields[1:] {
			switch f {
			case "FUNCTION", "PROCEDURE", "PACKAGE", "TRIGGER", "TYPE":
				return true
			case "TABLE", "INDEX", "VIEW", "SEQUENCE", "SYNONYM", "USER":
				return false
			}
		}
	}
	return false
}

func (s *plsqlScanner) flush() {
	text := strings.TrimSpace(s.current.String())
	s.current.Reset()
	if text == "" {
		return
	}
	s.out = append(s.out, text)
}
