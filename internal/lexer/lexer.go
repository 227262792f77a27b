package lexer

import (
	"fmt"
	"strings"
)

// TokenType represents the type of a token
type TokenType int

const (
	// EOF represents the end of input
	EOF TokenType = iota
	// KEYWORD represents a reserved word, always upper case
	KEYWORD
	// IDENTIFIER represents a table or column name
	IDENTIFIER
	// NUMBER represents an integer or decimal literal
	NUMBER
	// STRING represents a single-quoted string literal, unquoted
	STRING
	LPAREN
	RPAREN
	COMMA
	SEMICOLON
	ASTERISK
	EQUALS
	NOT_EQUALS
	LESS
	LESS_EQUALS
	GREATER
	GREATER_EQUALS
	PLUS
	MINUS
	SLASH
)

var tokenNames = map[TokenType]string{
	EOF:            "EOF",
	KEYWORD:        "KEYWORD",
	IDENTIFIER:     "IDENTIFIER",
	NUMBER:         "NUMBER",
	STRING:         "STRING",
	LPAREN:         "(",
	RPAREN:         ")",
	COMMA:          ",",
	SEMICOLON:      ";",
	ASTERISK:       "*",
	EQUALS:         "=",
	NOT_EQUALS:     "!=",
	LESS:           "<",
	LESS_EQUALS:    "<=",
	GREATER:        ">",
	GREATER_EQUALS: ">=",
	PLUS:           "+",
	MINUS:          "-",
	SLASH:          "/",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Position locates a token in the input. Line and Column are 1-based.
type Position struct {
	Offset int
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token represents a lexical token
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

// Error is returned for input that cannot be tokenized.
type Error struct {
	Pos Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("lex error at %s: %s", e.Pos, e.Msg)
}

// Lexer represents a lexical analyzer
type Lexer struct {
	input        string
	position     int
	readPosition int
	ch           byte
	line         int
	column       int
}

// New creates a new lexer with the given input
func New(input string) *Lexer {
	l := &Lexer{input: input, line: 1}
	l.readChar()
	return l
}

// Tokenize returns every token of input, terminated by an EOF token.
func Tokenize(input string) ([]Token, error) {
	return New(input).Tokens()
}

// Tokens drains the lexer.
func (l *Lexer) Tokens() ([]Token, error) {
	var toks []Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Type == EOF {
			return toks, nil
		}
	}
}

func (l *Lexer) readChar() {
	if l.ch == '\n' {
		l.line++
		l.column = 0
	}
	if l.readPosition >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPosition]
	}
	l.position = l.readPosition
	l.readPosition++
	l.column++
}

func (l *Lexer) peekChar() byte {
	if l.readPosition >= len(l.input) {
		return 0
	}
	return l.input[l.readPosition]
}

func (l *Lexer) pos() Position {
	return Position{Offset: l.position, Line: l.line, Column: l.column}
}

func (l *Lexer) atEnd() bool {
	return l.position >= len(l.input)
}

// NextToken returns the next token. Once the input is exhausted it keeps
// returning EOF.
func (l *Lexer) NextToken() (Token, error) {
	l.skipWhitespace()

	pos := l.pos()
	tok := Token{Pos: pos, Literal: string(l.ch)}

	if l.atEnd() {
		tok.Type, tok.Literal = EOF, ""
		return tok, nil
	}

	switch l.ch {
	case '(':
		tok.Type = LPAREN
	case ')':
		tok.Type = RPAREN
	case ',':
		tok.Type = COMMA
	case ';':
		tok.Type = SEMICOLON
	case '*':
		tok.Type = ASTERISK
	case '+':
		tok.Type = PLUS
	case '-':
		tok.Type = MINUS
	case '/':
		tok.Type = SLASH
	case '=':
		tok.Type = EQUALS
	case '!':
		if l.peekChar() != '=' {
			return Token{}, &Error{Pos: pos, Msg: "unexpected character '!'"}
		}
		l.readChar()
		tok.Type, tok.Literal = NOT_EQUALS, "!="
	case '<':
		switch l.peekChar() {
		case '=':
			l.readChar()
			tok.Type, tok.Literal = LESS_EQUALS, "<="
		case '>':
			l.readChar()
			tok.Type, tok.Literal = NOT_EQUALS, "<>"
		default:
			tok.Type = LESS
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok.Type, tok.Literal = GREATER_EQUALS, ">="
		} else {
			tok.Type = GREATER
		}
	case '\'':
		s, err := l.readString()
		if err != nil {
			return Token{}, err
		}
		tok.Type, tok.Literal = STRING, s
		return tok, nil
	case '"':
		s, err := l.readQuotedIdentifier()
		if err != nil {
			return Token{}, err
		}
		tok.Type, tok.Literal = IDENTIFIER, s
		return tok, nil
	default:
		if isLetter(l.ch) || l.ch == '_' {
			tok.Literal = l.readIdentifier()
			upperLiteral := strings.ToUpper(tok.Literal)
			if isKeyword(upperLiteral) {
				tok.Type = KEYWORD
				tok.Literal = upperLiteral
			} else {
				tok.Type = IDENTIFIER
			}
			return tok, nil
		}
		if isDigit(l.ch) {
			lit, err := l.readNumber()
			if err != nil {
				return Token{}, err
			}
			tok.Type, tok.Literal = NUMBER, lit
			return tok, nil
		}
		return Token{}, &Error{Pos: pos, Msg: fmt.Sprintf("unexpected character %q", l.ch)}
	}

	l.readChar()
	return tok, nil
}

func (l *Lexer) skipWhitespace() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '-' && l.peekChar() == '-':
			for !l.atEnd() && l.ch != '\n' {
				l.readChar()
			}
		default:
			return
		}
	}
}

func (l *Lexer) readIdentifier() string {
	position := l.position
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' {
		l.readChar()
	}
	return l.input[position:l.position]
}

func (l *Lexer) readNumber() (string, error) {
	start := l.pos()
	position := l.position
	seenDot := false
	for isDigit(l.ch) || l.ch == '.' {
		if l.ch == '.' {
			if seenDot {
				return "", &Error{Pos: start, Msg: "malformed number"}
			}
			seenDot = true
		}
		l.readChar()
	}
	if isLetter(l.ch) || l.ch == '_' {
		return "", &Error{Pos: start, Msg: "malformed number"}
	}
	lit := l.input[position:l.position]
	if strings.HasSuffix(lit, ".") {
		return "", &Error{Pos: start, Msg: "malformed number"}
	}
	return lit, nil
}

// readString consumes a single-quoted literal. A doubled quote stands for one.
func (l *Lexer) readString() (string, error) {
	start := l.pos()
	l.readChar()

	var sb strings.Builder
	for {
		if l.atEnd() {
			return "", &Error{Pos: start, Msg: "unterminated string literal"}
		}
		if l.ch == '\'' {
			if l.peekChar() != '\'' {
				l.readChar()
				return sb.String(), nil
			}
			l.readChar()
		}
		sb.WriteByte(l.ch)
		l.readChar()
	}
}

func (l *Lexer) readQuotedIdentifier() (string, error) {
	start := l.pos()
	l.readChar()
	position := l.position
	for l.ch != '"' {
		if l.atEnd() {
			return "", &Error{Pos: start, Msg: "unterminated quoted identifier"}
		}
		l.readChar()
	}
	name := l.input[position:l.position]
	l.readChar()
	if name == "" {
		return "", &Error{Pos: start, Msg: "empty quoted identifier"}
	}
	return name, nil
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z'
}

func isDigit(ch byte) bool {
	return '0' <= ch && ch <= '9'
}

var keywords = map[string]struct{}{
	"SELECT": {}, "FROM": {}, "WHERE": {}, "INSERT": {}, "INTO": {}, "VALUES": {},
	"UPDATE": {}, "SET": {}, "DELETE": {}, "CREATE": {}, "TABLE": {},
	"PRIMARY": {}, "KEY": {}, "NOT": {}, "NULL": {}, "DEFAULT": {},
	"AND": {}, "OR": {}, "IS": {}, "TRUE": {}, "FALSE": {},
	"ORDER": {}, "BY": {}, "ASC": {}, "DESC": {}, "LIMIT": {}, "OFFSET": {},
	"BEGIN": {}, "TRANSACTION": {}, "COMMIT": {}, "ROLLBACK": {},
}

func isKeyword(word string) bool {
	_, ok := keywords[word]
	return ok
}

func (t Token) String() string {
	return fmt.Sprintf("Token{Type: %v, Literal: %q}", t.Type, t.Literal)
}
