// Package sqlsplit splits a multi-statement SQL command string at top-level
// semicolons. The lexer understands string literals, quoted identifiers,
// dollar-quoting and comments, so separators inside those never split.
package sqlsplit

import (
	"strings"

	"github.com/cockroachdb/errors"
)

type tokenType int

const (
	tokenSemicolon tokenType = iota
	tokenString
	tokenQuotedIdent
	tokenDollarString
	tokenLineComment
	tokenBlockComment
	tokenText
	tokenEOF
)

type token struct {
	typ tokenType
	// Byte offset of the first byte of the token in the input.
	pos int
	end int
}

type lexer struct {
	sql          string
	position     int
	readPosition int
	ch           byte
}

func newLexer(sql string) *lexer {
	l := &lexer{sql: sql}
	l.readChar()
	return l
}

func (l *lexer) readChar() {
	if l.readPosition >= len(l.sql) {
		l.ch = 0
	} else {
		l.ch = l.sql[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
}

func (l *lexer) peekChar() byte {
	if l.readPosition >= len(l.sql) {
		return 0
	}
	return l.sql[l.readPosition]
}

// nextToken returns the next lexical unit. Runs of ordinary text are
// collapsed into a single tokenText; only the units that affect statement
// boundaries are distinguished.
func (l *lexer) nextToken() (token, error) {
	start := l.position

	switch {
	case l.ch == 0:
		return token{typ: tokenEOF, pos: start, end: start}, nil
	case l.ch == ';':
		l.readChar()
		return token{typ: tokenSemicolon, pos: start, end: l.position}, nil
	case l.ch == '\'':
		if err := l.readString('\''); err != nil {
			return token{}, err
		}
		return token{typ: tokenString, pos: start, end: l.position}, nil
	case l.ch == '"':
		if err := l.readString('"'); err != nil {
			return token{}, err
		}
		return token{typ: tokenQuotedIdent, pos: start, end: l.position}, nil
	case l.ch == '$' && l.startsDollarQuote():
		if err := l.readDollarString(); err != nil {
			return token{}, err
		}
		return token{typ: tokenDollarString, pos: start, end: l.position}, nil
	case l.ch == '-' && l.peekChar() == '-':
		l.readLineComment()
		return token{typ: tokenLineComment, pos: start, end: l.position}, nil
	case l.ch == '/' && l.peekChar() == '*':
		if err := l.readBlockComment(); err != nil {
			return token{}, err
		}
		return token{typ: tokenBlockComment, pos: start, end: l.position}, nil
	}

	// Ordinary text: consume until something interesting.
	for l.ch != 0 && l.ch != ';' && l.ch != '\'' && l.ch != '"' &&
		!(l.ch == '$' && l.startsDollarQuote()) &&
		!(l.ch == '-' && l.peekChar() == '-') &&
		!(l.ch == '/' && l.peekChar() == '*') {
		l.readChar()
	}
	return token{typ: tokenText, pos: start, end: l.position}, nil
}

// readString consumes a quoted region delimited by quote, honoring the SQL
// doubled-quote escape ('' or "").
func (l *lexer) readString(quote byte) error {
	l.readChar() // opening quote
	for {
		if l.ch == 0 {
			return errors.Newf("unterminated %c-quoted literal", quote)
		}
		if l.ch == quote {
			if l.peekChar() == quote {
				l.readChar() // first of the doubled pair
				l.readChar()
				continue
			}
			l.readChar() // closing quote
			return nil
		}
		l.readChar()
	}
}

// startsDollarQuote reports whether the cursor sits on a valid dollar-quote
// opener ($$, $tag$). The cursor is not moved.
func (l *lexer) startsDollarQuote() bool {
	_, ok := l.dollarTag()
	return ok
}

// dollarTag returns the full opener (e.g. "$body$") if the input at the
// cursor begins one.
func (l *lexer) dollarTag() (string, bool) {
	rest := l.sql[l.position:]
	if len(rest) < 2 || rest[0] != '$' {
		return "", false
	}
	for i := 1; i < len(rest); i++ {
		c := rest[i]
		if c == '$' {
			return rest[:i+1], true
		}
		if !isTagChar(c) {
			return "", false
		}
	}
	return "", false
}

func (l *lexer) readDollarString() error {
	tag, ok := l.dollarTag()
	if !ok {
		return errors.New("invalid dollar quote")
	}
	for range tag {
		l.readChar()
	}
	for {
		if l.ch == 0 {
			return errors.Newf("unterminated dollar-quoted literal %s", tag)
		}
		if l.ch == '$' && strings.HasPrefix(l.sql[l.position:], tag) {
			for range tag {
				l.readChar()
			}
			return nil
		}
		l.readChar()
	}
}

func (l *lexer) readLineComment() {
	for l.ch != 0 && l.ch != '\n' {
		l.readChar()
	}
}

// readBlockComment consumes a /* */ comment, handling nesting as SQL does.
func (l *lexer) readBlockComment() error {
	l.readChar() // '/'
	l.readChar() // '*'
	depth := 1
	for depth > 0 {
		if l.ch == 0 {
			return errors.New("unterminated block comment")
		}
		if l.ch == '/' && l.peekChar() == '*' {
			depth++
			l.readChar()
			l.readChar()
			continue
		}
		if l.ch == '*' && l.peekChar() == '/' {
			depth--
			l.readChar()
			l.readChar()
			continue
		}
		l.readChar()
	}
	return nil
}

func isTagChar(c byte) bool {
	return c == '_' || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
