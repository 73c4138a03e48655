package parser

import (
	"fmt"
	"strings"

	"github.com/cuemby/behemoth/pkg/types"
)

// Statement is one executable command extracted from raw text, with the
// nearest preceding line comment kept as human-readable context.
type Statement struct {
	Text    string
	Comment string
}

// Split breaks raw command text into ordered statements for the given
// database family.
func Split(dbType types.DatabaseType, raw string) ([]Statement, error) {
	switch dbType {
	case types.DatabaseMySQL:
		return SplitMySQL(raw), nil
	case types.DatabaseOracle:
		stmts := SplitPLSQL(raw)
		out := make([]Statement, 0, len(stmts))
		for _, s := range stmts {
			out = append(out, Statement{Text: s})
		}
		return out, nil
	case types.DatabaseScript:
		return splitLines(raw), nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// SplitMySQL splits semicolon-terminated statements. Lines are trimmed,
// lines starting with the annotation symbol are captured as the comment of
// the next emitted statement, and multi-line statements are joined with
// single spaces.
func SplitMySQL(raw string) []Statement {
	const annoSymbol = "--"

	var (
		statements []Statement
		pending    []string
		anno       string
	)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, annoSymbol) {
			anno = line
			continue
		}

		pending = append(pending, line)
		if strings.Contains(line, ";") {
			statements = append(statements, Statement{
				Text:    strings.TrimSpace(strings.Join(pending, " ")),
				Comment: anno,
			})
			pending = pending[:0]
		}
	}
	return statements
}

func splitLines(raw string) []Statement {
	var statements []Statement
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		statements = append(statements, Statement{Text: line})
	}
	return statements
}
