package sqlsplit

import "strings"

// Split cuts a command string into individually dispatchable statements at
// top-level semicolons. Semicolons inside string literals, quoted
// identifiers, dollar quotes and comments do not split.
//
// If the input cannot be lexed, or contains no semicolon at all, the whole
// string is returned as a single statement so the server's own parser gets
// to report the problem.
func Split(command string) []string {
	lex := newLexer(command)

	var statements []string
	segStart := 0
	sawSemicolon := false

	for {
		tok, err := lex.nextToken()
		if err != nil {
			return []string{command}
		}
		switch tok.typ {
		case tokenSemicolon:
			sawSemicolon = true
			if stmt := strings.TrimSpace(command[segStart:tok.pos]); stmt != "" {
				statements = append(statements, stmt)
			}
			segStart = tok.end
		case tokenEOF:
			if !sawSemicolon {
				return []string{command}
			}
			if stmt := strings.TrimSpace(command[segStart:]); stmt != "" {
				statements = append(statements, stmt)
			}
			if len(statements) == 0 {
				return []string{command}
			}
			return statements
		}
	}
}
