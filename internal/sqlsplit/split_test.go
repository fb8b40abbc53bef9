package sqlsplit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBasic(t *testing.T) {
	stmts := Split("SELECT 1; SELECT 2;")
	require.Equal(t, []string{"SELECT 1", "SELECT 2"}, stmts)
}

func TestSplitSemicolonInStringLiteral(t *testing.T) {
	stmts := Split("SELECT 1; SELECT 'a;b'; ")
	require.Len(t, stmts, 2)
	assert.Equal(t, "SELECT 1", stmts[0])
	assert.Equal(t, "SELECT 'a;b'", stmts[1])
}

func TestSplitNoSemicolonReturnsWhole(t *testing.T) {
	stmts := Split("SELECT 1")
	require.Equal(t, []string{"SELECT 1"}, stmts)
}

func TestSplitEscapedQuote(t *testing.T) {
	stmts := Split("SELECT 'it''s; fine'; SELECT 2;")
	require.Len(t, stmts, 2)
	assert.Equal(t, "SELECT 'it''s; fine'", stmts[0])
}

func TestSplitQuotedIdentifier(t *testing.T) {
	stmts := Split(`SELECT "a;b" FROM t; SELECT 2;`)
	require.Len(t, stmts, 2)
	assert.Equal(t, `SELECT "a;b" FROM t`, stmts[0])
}

func TestSplitLineComment(t *testing.T) {
	stmts := Split("SELECT 1 -- trailing; not a separator\n; SELECT 2;")
	require.Len(t, stmts, 2)
	assert.Equal(t, "SELECT 2", stmts[1])
}

func TestSplitBlockComment(t *testing.T) {
	stmts := Split("SELECT /* ; */ 1; SELECT 2;")
	require.Len(t, stmts, 2)
	assert.Equal(t, "SELECT /* ; */ 1", stmts[0])
}

func TestSplitNestedBlockComment(t *testing.T) {
	stmts := Split("SELECT /* outer /* inner; */ ; */ 1; SELECT 2;")
	require.Len(t, stmts, 2)
}

func TestSplitDollarQuote(t *testing.T) {
	stmts := Split("CREATE FUNCTION f() AS $body$ SELECT 1; SELECT 2; $body$; SELECT 3;")
	require.Len(t, stmts, 2)
	assert.Equal(t, "SELECT 3", stmts[1])
}

func TestSplitAnonymousDollarQuote(t *testing.T) {
	stmts := Split("SELECT $$a;b$$; SELECT 2;")
	require.Len(t, stmts, 2)
	assert.Equal(t, "SELECT $$a;b$$", stmts[0])
}

func TestSplitUnterminatedStringFallsBack(t *testing.T) {
	input := "SELECT 'unterminated; SELECT 2;"
	stmts := Split(input)
	// Lexing failed: the server gets the raw text and reports the error.
	require.Equal(t, []string{input}, stmts)
}

func TestSplitUnterminatedCommentFallsBack(t *testing.T) {
	input := "SELECT 1; /* open comment"
	stmts := Split(input)
	require.Equal(t, []string{input}, stmts)
}

func TestSplitOnlySemicolonsFallsBack(t *testing.T) {
	input := " ; ; "
	stmts := Split(input)
	require.Equal(t, []string{input}, stmts)
}

func TestSplitDropsEmptySegments(t *testing.T) {
	stmts := Split("SELECT 1;;SELECT 2;")
	require.Equal(t, []string{"SELECT 1", "SELECT 2"}, stmts)
}

func TestSplitDollarParameterIsNotAQuote(t *testing.T) {
	stmts := Split("SELECT $1; SELECT $2;")
	require.Equal(t, []string{"SELECT $1", "SELECT $2"}, stmts)
}
