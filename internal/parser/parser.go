package parser

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/zakazai/ulin-mvcc/internal/lexer"
	"github.com/zakazai/ulin-mvcc/internal/types"
)

// Error is a syntax error. Found is the offending token as written.
type Error struct {
	Expected string
	Found    string
	Pos      lexer.Position
}

func (e *Error) Error() string {
	return fmt.Sprintf("parse error at %s: expected %s, got %s", e.Pos, e.Expected, e.Found)
}

// Parser builds one Statement from a token stream.
type Parser struct {
	l      *lexer.Lexer
	tokens []lexer.Token
	pos    int
}

// New creates a parser reading from l.
func New(l *lexer.Lexer) *Parser {
	return &Parser{l: l}
}

// Parse parses sql as a single statement.
func Parse(sql string) (Statement, error) {
	return New(lexer.New(sql)).Parse()
}

// Parse reads exactly one statement, optionally followed by a semicolon.
// Anything after that is an error.
func (p *Parser) Parse() (Statement, error) {
	toks, err := p.l.Tokens()
	if err != nil {
		return nil, err
	}
	p.tokens, p.pos = toks, 0

	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}

	if p.cur().Type == lexer.SEMICOLON {
		p.advance()
	}
	if p.cur().Type != lexer.EOF {
		return nil, p.errorf("end of statement")
	}
	return stmt, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	tok := p.cur()
	if tok.Type != lexer.KEYWORD {
		return nil, p.errorf("statement")
	}

	switch tok.Literal {
	case "CREATE":
		return p.parseCreate()
	case "INSERT":
		return p.parseInsert()
	case "SELECT":
		return p.parseSelect()
	case "UPDATE":
		return p.parseUpdate()
	case "DELETE":
		return p.parseDelete()
	case "BEGIN":
		p.advance()
		p.acceptKeyword("TRANSACTION")
		return &BeginStatement{}, nil
	case "COMMIT":
		p.advance()
		return &CommitStatement{}, nil
	case "ROLLBACK":
		p.advance()
		return &RollbackStatement{}, nil
	default:
		return nil, p.errorf("statement")
	}
}

func (p *Parser) parseCreate() (*CreateTableStatement, error) {
	p.advance()
	if err := p.expectKeyword("TABLE"); err != nil {
		return nil, err
	}

	name, err := p.expectIdentifier("table name")
	if err != nil {
		return nil, err
	}
	stmt := &CreateTableStatement{Table: name}

	if err := p.expect(lexer.LPAREN, "("); err != nil {
		return nil, err
	}
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		stmt.Columns = append(stmt.Columns, col)

		if p.cur().Type == lexer.COMMA {
			p.advance()
			continue
		}
		if err := p.expect(lexer.RPAREN, ", or )"); err != nil {
			return nil, err
		}
		return stmt, nil
	}
}

func (p *Parser) parseColumnDef() (ColumnDef, error) {
	var col ColumnDef

	name, err := p.expectIdentifier("column name")
	if err != nil {
		return col, err
	}
	col.Name = name

	// Type names are plain identifiers so that columns may be called "text".
	tok := p.cur()
	if tok.Type != lexer.IDENTIFIER {
		return col, p.errorf("column type")
	}
	dt, err := types.ParseDataType(tok.Literal)
	if err != nil {
		return col, p.errorf("column type")
	}
	col.Type = dt
	p.advance()

	for {
		switch {
		case p.acceptKeyword("PRIMARY"):
			if err := p.expectKeyword("KEY"); err != nil {
				return col, err
			}
			col.PrimaryKey = true
		case p.acceptKeyword("NOT"):
			if err := p.expectKeyword("NULL"); err != nil {
				return col, err
			}
			col.NotNull = true
		case p.acceptKeyword("NULL"):
			col.NotNull = false
		case p.acceptKeyword("DEFAULT"):
			v, err := p.parseConstant()
			if err != nil {
				return col, err
			}
			col.Default = &v
		default:
			return col, nil
		}
	}
}

// parseConstant reads a literal, allowing a leading minus on numbers.
func (p *Parser) parseConstant() (types.Value, error) {
	if p.cur().Type == lexer.MINUS {
		p.advance()
		tok := p.cur()
		if tok.Type != lexer.NUMBER {
			return types.Value{}, p.errorf("number")
		}
		p.advance()
		return parseNumber(tok, true)
	}

	lit, err := p.parseLiteral()
	if err != nil {
		return types.Value{}, err
	}
	return lit.Value, nil
}

func (p *Parser) parseInsert() (*InsertStatement, error) {
	p.advance()
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}

	name, err := p.expectIdentifier("table name")
	if err != nil {
		return nil, err
	}
	stmt := &InsertStatement{Table: name}

	if p.cur().Type == lexer.LPAREN {
		p.advance()
		cols, err := p.parseIdentifierList("column name")
		if err != nil {
			return nil, err
		}
		if err := p.expect(lexer.RPAREN, ", or )"); err != nil {
			return nil, err
		}
		stmt.Columns = cols
	}

	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}

	for {
		if err := p.expect(lexer.LPAREN, "("); err != nil {
			return nil, err
		}
		var row []Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.cur().Type == lexer.COMMA {
				p.advance()
				continue
			}
			break
		}
		if err := p.expect(lexer.RPAREN, ", or )"); err != nil {
			return nil, err
		}
		stmt.Rows = append(stmt.Rows, row)

		if p.cur().Type != lexer.COMMA {
			return stmt, nil
		}
		p.advance()
	}
}

func (p *Parser) parseSelect() (*SelectStatement, error) {
	p.advance()
	stmt := &SelectStatement{}

	if p.cur().Type == lexer.ASTERISK {
		p.advance()
	} else {
		cols, err := p.parseIdentifierList("column name or *")
		if err != nil {
			return nil, err
		}
		stmt.Columns = cols
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.expectIdentifier("table name")
	if err != nil {
		return nil, err
	}
	stmt.Table = name

	if stmt.Where, err = p.parseWhere(); err != nil {
		return nil, err
	}

	if p.acceptKeyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		for {
			col, err := p.expectIdentifier("column name")
			if err != nil {
				return nil, err
			}
			clause := OrderByClause{Column: col}
			if p.acceptKeyword("DESC") {
				clause.Descending = true
			} else {
				p.acceptKeyword("ASC")
			}
			stmt.OrderBy = append(stmt.OrderBy, clause)

			if p.cur().Type != lexer.COMMA {
				break
			}
			p.advance()
		}
	}

	if p.acceptKeyword("LIMIT") {
		n, err := p.parseCount()
		if err != nil {
			return nil, err
		}
		stmt.Limit = &n
	}
	if p.acceptKeyword("OFFSET") {
		n, err := p.parseCount()
		if err != nil {
			return nil, err
		}
		stmt.Offset = &n
	}

	return stmt, nil
}

func (p *Parser) parseUpdate() (*UpdateStatement, error) {
	p.advance()
	name, err := p.expectIdentifier("table name")
	if err != nil {
		return nil, err
	}
	stmt := &UpdateStatement{Table: name}

	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for {
		colTok := p.cur()
		col, err := p.expectIdentifier("column name")
		if err != nil {
			return nil, err
		}
		if seen[col] {
			return nil, &Error{Expected: "distinct column", Found: "duplicate column " + col, Pos: colTok.Pos}
		}
		seen[col] = true

		if err := p.expect(lexer.EQUALS, "="); err != nil {
			return nil, err
		}
		value, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		stmt.Set = append(stmt.Set, Assignment{Column: col, Value: value})

		if p.cur().Type != lexer.COMMA {
			break
		}
		p.advance()
	}

	if stmt.Where, err = p.parseWhere(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseDelete() (*DeleteStatement, error) {
	p.advance()
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	name, err := p.expectIdentifier("table name")
	if err != nil {
		return nil, err
	}
	stmt := &DeleteStatement{Table: name}

	if stmt.Where, err = p.parseWhere(); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *Parser) parseWhere() (Expr, error) {
	if !p.acceptKeyword("WHERE") {
		return nil, nil
	}
	return p.parseExpr()
}

func (p *Parser) parseCount() (int64, error) {
	tok := p.cur()
	if tok.Type != lexer.NUMBER || strings.Contains(tok.Literal, ".") {
		return 0, p.errorf("non-negative integer")
	}
	n, err := strconv.ParseInt(tok.Literal, 10, 64)
	if err != nil {
		return 0, p.errorf("non-negative integer")
	}
	p.advance()
	return n, nil
}

func (p *Parser) parseIdentifierList(what string) ([]string, error) {
	var names []string
	for {
		name, err := p.expectIdentifier(what)
		if err != nil {
			return nil, err
		}
		names = append(names, name)
		if p.cur().Type != lexer.COMMA {
			return names, nil
		}
		p.advance()
	}
}

// Expression grammar, loosest binding first:
//
//	or      = and { OR and }
//	and     = not { AND not }
//	not     = NOT not | cmp
//	cmp     = sum [ (= != < <= > >=) sum | IS [NOT] NULL ]
//	sum     = product { (+ -) product }
//	product = unary { (* /) unary }
//	unary   = - unary | primary
//	primary = literal | column | ( or )
func (p *Parser) parseExpr() (Expr, error) {
	return p.parseOr()
}

func (p *Parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseAnd() (Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.acceptKeyword("AND") {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *Parser) parseNot() (Expr, error) {
	if p.acceptKeyword("NOT") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &UnaryExpr{Op: OpNot, Operand: operand}, nil
	}
	return p.parseComparison()
}

var comparisonOps = map[lexer.TokenType]BinaryOp{
	lexer.EQUALS:         OpEq,
	lexer.NOT_EQUALS:     OpNotEq,
	lexer.LESS:           OpLt,
	lexer.LESS_EQUALS:    OpLte,
	lexer.GREATER:        OpGt,
	lexer.GREATER_EQUALS: OpGte,
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parseSum()
	if err != nil {
		return nil, err
	}

	if op, ok := comparisonOps[p.cur().Type]; ok {
		p.advance()
		right, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: op, Left: left, Right: right}, nil
	}

	if p.acceptKeyword("IS") {
		not := p.acceptKeyword("NOT")
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return &IsNullExpr{Operand: left, Not: not}, nil
	}
	return left, nil
}

func (p *Parser) parseSum() (Expr, error) {
	left, err := p.parseProduct()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch p.cur().Type {
		case lexer.PLUS:
			op = OpAdd
		case lexer.MINUS:
			op = OpSub
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseProduct()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseProduct() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		var op BinaryOp
		switch p.cur().Type {
		case lexer.ASTERISK:
			op = OpMul
		case lexer.SLASH:
			op = OpDiv
		default:
			return left, nil
		}
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: op, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() (Expr, error) {
	if p.cur().Type == lexer.MINUS {
		p.advance()
		// A minus right before a number belongs to the literal, so that
		// -9223372036854775808 parses.
		if tok := p.cur(); tok.Type == lexer.NUMBER {
			p.advance()
			v, err := parseNumber(tok, true)
			if err != nil {
				return nil, err
			}
			return &Literal{Value: v}, nil
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if lit, ok := operand.(*Literal); ok {
			switch {
			case lit.Value.Type == types.TypeInteger && lit.Value.I64 != math.MinInt64:
				return &Literal{Value: types.IntValue(-lit.Value.I64)}, nil
			case lit.Value.Type == types.TypeFloat:
				return &Literal{Value: types.FloatValue(-lit.Value.F64)}, nil
			}
		}
		return &UnaryExpr{Op: OpNeg, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (Expr, error) {
	tok := p.cur()
	switch tok.Type {
	case lexer.IDENTIFIER:
		p.advance()
		return &ColumnRef{Name: tok.Literal}, nil
	case lexer.LPAREN:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(lexer.RPAREN, ")"); err != nil {
			return nil, err
		}
		return e, nil
	default:
		return p.parseLiteral()
	}
}

func (p *Parser) parseLiteral() (*Literal, error) {
	tok := p.cur()
	switch tok.Type {
	case lexer.NUMBER:
		p.advance()
		v, err := parseNumber(tok, false)
		if err != nil {
			return nil, err
		}
		return &Literal{Value: v}, nil
	case lexer.STRING:
		p.advance()
		return &Literal{Value: types.TextValue(tok.Literal)}, nil
	case lexer.KEYWORD:
		switch tok.Literal {
		case "TRUE":
			p.advance()
			return &Literal{Value: types.BoolValue(true)}, nil
		case "FALSE":
			p.advance()
			return &Literal{Value: types.BoolValue(false)}, nil
		case "NULL":
			p.advance()
			return &Literal{Value: types.NullValue()}, nil
		}
	}
	return nil, p.errorf("expression")
}

func parseNumber(tok lexer.Token, neg bool) (types.Value, error) {
	text := tok.Literal
	if neg {
		text = "-" + text
	}
	if strings.Contains(text, ".") {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return types.Value{}, &Error{Expected: "number", Found: text, Pos: tok.Pos}
		}
		return types.FloatValue(f), nil
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return types.Value{}, &Error{Expected: "64-bit integer", Found: text, Pos: tok.Pos}
	}
	return types.IntValue(i), nil
}

func (p *Parser) cur() lexer.Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return p.tokens[len(p.tokens)-1]
}

func (p *Parser) advance() {
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
}

func (p *Parser) acceptKeyword(kw string) bool {
	tok := p.cur()
	if tok.Type == lexer.KEYWORD && tok.Literal == kw {
		p.advance()
		return true
	}
	return false
}

func (p *Parser) expectKeyword(kw string) error {
	if !p.acceptKeyword(kw) {
		return p.errorf(kw)
	}
	return nil
}

func (p *Parser) expect(tt lexer.TokenType, what string) error {
	if p.cur().Type != tt {
		return p.errorf(what)
	}
	p.advance()
	return nil
}

func (p *Parser) expectIdentifier(what string) (string, error) {
	tok := p.cur()
	if tok.Type != lexer.IDENTIFIER {
		return "", p.errorf(what)
	}
	p.advance()
	return tok.Literal, nil
}

func (p *Parser) errorf(expected string) *Error {
	tok := p.cur()
	found := tok.Literal
	switch tok.Type {
	case lexer.EOF:
		found = "end of input"
	case lexer.STRING:
		found = "'" + tok.Literal + "'"
	}
	return &Error{Expected: expected, Found: found, Pos: tok.Pos}
}
