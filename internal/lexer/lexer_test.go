package lexer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zakazai/ulin-mvcc/internal/lexer"
)

type tok struct {
	Type    lexer.TokenType
	Literal string
}

func strip(toks []lexer.Token) []tok {
	out := make([]tok, 0, len(toks))
	for _, t := range toks {
		out = append(out, tok{t.Type, t.Literal})
	}
	return out
}

func TestLexer(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []tok
	}{
		{
			name:  "Select_all_from_table",
			input: "SELECT * FROM tablex;",
			expected: []tok{
				{lexer.KEYWORD, "SELECT"},
				{lexer.ASTERISK, "*"},
				{lexer.KEYWORD, "FROM"},
				{lexer.IDENTIFIER, "tablex"},
				{lexer.SEMICOLON, ";"},
				{lexer.EOF, ""},
			},
		},
		{
			name:  "Keywords_are_case_insensitive",
			input: "select name from t where id = 2",
			expected: []tok{
				{lexer.KEYWORD, "SELECT"},
				{lexer.IDENTIFIER, "name"},
				{lexer.KEYWORD, "FROM"},
				{lexer.IDENTIFIER, "t"},
				{lexer.KEYWORD, "WHERE"},
				{lexer.IDENTIFIER, "id"},
				{lexer.EQUALS, "="},
				{lexer.NUMBER, "2"},
				{lexer.EOF, ""},
			},
		},
		{
			name:  "Create_table",
			input: "CREATE TABLE u (id INT PRIMARY KEY, name TEXT NOT NULL)",
			expected: []tok{
				{lexer.KEYWORD, "CREATE"},
				{lexer.KEYWORD, "TABLE"},
				{lexer.IDENTIFIER, "u"},
				{lexer.LPAREN, "("},
				{lexer.IDENTIFIER, "id"},
				{lexer.IDENTIFIER, "INT"},
				{lexer.KEYWORD, "PRIMARY"},
				{lexer.KEYWORD, "KEY"},
				{lexer.COMMA, ","},
				{lexer.IDENTIFIER, "name"},
				{lexer.IDENTIFIER, "TEXT"},
				{lexer.KEYWORD, "NOT"},
				{lexer.KEYWORD, "NULL"},
				{lexer.RPAREN, ")"},
				{lexer.EOF, ""},
			},
		},
		{
			name:  "Operators",
			input: "a<>b != c <= d >= e < f > g + h - i / j",
			expected: []tok{
				{lexer.IDENTIFIER, "a"},
				{lexer.NOT_EQUALS, "<>"},
				{lexer.IDENTIFIER, "b"},
				{lexer.NOT_EQUALS, "!="},
				{lexer.IDENTIFIER, "c"},
				{lexer.LESS_EQUALS, "<="},
				{lexer.IDENTIFIER, "d"},
				{lexer.GREATER_EQUALS, ">="},
				{lexer.IDENTIFIER, "e"},
				{lexer.LESS, "<"},
				{lexer.IDENTIFIER, "f"},
				{lexer.GREATER, ">"},
				{lexer.IDENTIFIER, "g"},
				{lexer.PLUS, "+"},
				{lexer.IDENTIFIER, "h"},
				{lexer.MINUS, "-"},
				{lexer.IDENTIFIER, "i"},
				{lexer.SLASH, "/"},
				{lexer.IDENTIFIER, "j"},
				{lexer.EOF, ""},
			},
		},
		{
			name:  "Strings_and_numbers",
			input: "VALUES ('it''s', 3.5, -7)",
			expected: []tok{
				{lexer.KEYWORD, "VALUES"},
				{lexer.LPAREN, "("},
				{lexer.STRING, "it's"},
				{lexer.COMMA, ","},
				{lexer.NUMBER, "3.5"},
				{lexer.COMMA, ","},
				{lexer.MINUS, "-"},
				{lexer.NUMBER, "7"},
				{lexer.RPAREN, ")"},
				{lexer.EOF, ""},
			},
		},
		{
			name:  "Quoted_identifier_and_comment",
			input: "SELECT \"Order\" -- trailing comment\nFROM t",
			expected: []tok{
				{lexer.KEYWORD, "SELECT"},
				{lexer.IDENTIFIER, "Order"},
				{lexer.KEYWORD, "FROM"},
				{lexer.IDENTIFIER, "t"},
				{lexer.EOF, ""},
			},
		},
		{
			name:     "Empty_input",
			input:    "   ",
			expected: []tok{{lexer.EOF, ""}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			toks, err := lexer.Tokenize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, strip(toks))
		})
	}
}

func TestLexerPositions(t *testing.T) {
	toks, err := lexer.Tokenize("SELECT a\n  FROM t")
	require.NoError(t, err)

	assert.Equal(t, lexer.Position{Offset: 0, Line: 1, Column: 1}, toks[0].Pos)
	assert.Equal(t, lexer.Position{Offset: 7, Line: 1, Column: 8}, toks[1].Pos)
	assert.Equal(t, lexer.Position{Offset: 11, Line: 2, Column: 3}, toks[2].Pos)
}

func TestLexerErrors(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		column int
	}{
		{"Unterminated_string", "SELECT 'abc", 8},
		{"Unknown_character", "SELECT # FROM t", 8},
		{"Lone_bang", "a ! b", 3},
		{"Malformed_number", "SELECT 1.2.3", 8},
		{"Number_with_letters", "SELECT 12ab", 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lexer.Tokenize(tt.input)
			require.Error(t, err)

			var lexErr *lexer.Error
			require.True(t, errors.As(err, &lexErr))
			assert.Equal(t, 1, lexErr.Pos.Line)
			assert.Equal(t, tt.column, lexErr.Pos.Column)
		})
	}
}

func TestLexerKeepsReturningEOF(t *testing.T) {
	l := lexer.New("x")
	first, err := l.NextToken()
	require.NoError(t, err)
	assert.Equal(t, lexer.IDENTIFIER, first.Type)

	for i := 0; i < 3; i++ {
		next, err := l.NextToken()
		require.NoError(t, err)
		assert.Equal(t, lexer.EOF, next.Type)
	}
}
