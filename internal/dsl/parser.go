package dsl

import "fmt"

// Parser is a one-token-lookahead recursive-descent parser over the
// trigger grammar in spec.md §4.4.
type Parser struct {
	lex     *Lexer
	current Token
	peeked  *Token
}

// NewParser constructs a Parser over already comment-stripped source.
func NewParser(src string) (*Parser, error) {
	p := &Parser{lex: NewLexer(src)}
	tok, err := p.lex.NextToken()
	if err != nil {
		return nil, &CompileError{Line: tok.Line, Kind: "SyntaxError", Message: err.Error()}
	}
	p.current = tok
	return p, nil
}

func (p *Parser) advance() error {
	if p.peeked != nil {
		p.current = *p.peeked
		p.peeked = nil
		return nil
	}
	tok, err := p.lex.NextToken()
	if err != nil {
		return &CompileError{Line: p.current.Line, Kind: "SyntaxError", Message: err.Error()}
	}
	p.current = tok
	return nil
}

func (p *Parser) peek() (Token, error) {
	if p.peeked == nil {
		tok, err := p.lex.NextToken()
		if err != nil {
			return Token{}, &CompileError{Line: p.current.Line, Kind: "SyntaxError", Message: err.Error()}
		}
		p.peeked = &tok
	}
	return *p.peeked, nil
}

func (p *Parser) expect(t TokenType) (Token, error) {
	if p.current.Type != t {
		return Token{}, newError(p.current.Line, "SyntaxError", "expected %s, got %s %q", t, p.current.Type, p.current.Literal)
	}
	tok := p.current
	if err := p.advance(); err != nil {
		return Token{}, err
	}
	return tok, nil
}

func (p *Parser) isKeyword(lit string) bool {
	return p.current.Type == TokenIdent && p.current.Literal == lit
}

// ParseProgram parses an optional `const events = [...]` block followed by
// exactly one `fn main(events) { ... }`.
func (p *Parser) ParseProgram() ([]declaredEvent, Node, error) {
	var declared []declaredEvent
	if p.isKeyword("const") {
		var err error
		declared, err = p.parseConstEventsBlock()
		if err != nil {
			return nil, Node{}, err
		}
	}

	if !p.isKeyword("fn") {
		return nil, Node{}, newError(p.current.Line, "SyntaxError", "expected top-level `fn main`, got %q", p.current.Literal)
	}
	body, err := p.parseFnMain()
	if err != nil {
		return nil, Node{}, err
	}

	if p.current.Type != TokenEOF {
		return nil, Node{}, newError(p.current.Line, "SyntaxError", "unexpected trailing content after `main`: %q", p.current.Literal)
	}

	return declared, body, nil
}

func (p *Parser) parseConstEventsBlock() ([]declaredEvent, error) {
	if err := p.advance(); err != nil { // consume "const"
		return nil, err
	}
	if !p.isKeyword("events") {
		return nil, newError(p.current.Line, "SyntaxError", "expected `events` after `const`")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenAssign); err != nil {
		return nil, err
	}
	if _, err := p.expect(TokenLBracket); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var out []declaredEvent
	for p.current.Type != TokenRBracket {
		evLine := p.current.Line
		nameTok, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		if seen[nameTok.Literal] {
			return nil, newError(evLine, "SyntaxError", "duplicate declared event %q", nameTok.Literal)
		}
		seen[nameTok.Literal] = true

		if _, err := p.expect(TokenLBrace); err != nil {
			return nil, err
		}
		var fields []string
		for p.current.Type != TokenRBrace {
			f, err := p.expect(TokenIdent)
			if err != nil {
				return nil, err
			}
			fields = append(fields, f.Literal)
			if p.current.Type == TokenComma {
				if err := p.advance(); err != nil {
					return nil, err
				}
			}
		}
		if _, err := p.expect(TokenRBrace); err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			return nil, newError(evLine, "SyntaxError", "declared event %q has an empty body", nameTok.Literal)
		}
		out = append(out, declaredEvent{Name: nameTok.Literal, Fields: fields, Line: evLine})

		if p.current.Type == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(TokenRBracket); err != nil {
		return nil, err
	}
	if p.current.Type == TokenSemicolon {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (p *Parser) parseFnMain() (Node, error) {
	if err := p.advance(); err != nil { // consume "fn"
		return Node{}, err
	}
	if !p.isKeyword("main") {
		return Node{}, newError(p.current.Line, "SyntaxError", "the only top-level function must be named `main`, got %q", p.current.Literal)
	}
	if err := p.advance(); err != nil {
		return Node{}, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return Node{}, err
	}
	if !p.isKeyword("events") {
		return Node{}, newError(p.current.Line, "SyntaxError", "`main` must take a single parameter named `events`")
	}
	if err := p.advance(); err != nil {
		return Node{}, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return Node{}, err
	}
	return p.parseBlock()
}

func (p *Parser) parseBlock() (Node, error) {
	line := p.current.Line
	if _, err := p.expect(TokenLBrace); err != nil {
		return Node{}, err
	}
	var stmts []Node
	for p.current.Type != TokenRBrace {
		if p.current.Type == TokenEOF {
			return Node{}, newError(line, "SyntaxError", "unbalanced braces: block starting here was never closed")
		}
		stmt, err := p.parseStmt()
		if err != nil {
			return Node{}, err
		}
		stmts = append(stmts, stmt)
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return Node{}, err
	}
	return Node{Kind: NodeSeq, Line: line, Stmts: stmts}, nil
}

func (p *Parser) parseStmt() (Node, error) {
	switch {
	case p.isKeyword("insert"):
		return p.parseInsert()
	case p.isKeyword("update"):
		return p.parseUpdate()
	case p.isKeyword("delete"):
		return p.parseDelete()
	case p.isKeyword("if"):
		return p.parseIf()
	default:
		return Node{}, newError(p.current.Line, "SyntaxError", "expected a statement (insert/update/delete/if), got %q", p.current.Literal)
	}
}

func (p *Parser) parseInsert() (Node, error) {
	line := p.current.Line
	if err := p.advance(); err != nil { // "insert"
		return Node{}, err
	}
	coll, docID, err := p.parseTarget(true)
	if err != nil {
		return Node{}, err
	}
	if p.isKeyword("with") { // accepted synonym before the field block
		if err := p.advance(); err != nil {
			return Node{}, err
		}
	}
	fields, err := p.parseFieldBlock()
	if err != nil {
		return Node{}, err
	}
	return Node{Kind: NodeInsert, Line: line, Collection: coll, DocID: docID, Fields: fields}, nil
}

func (p *Parser) parseUpdate() (Node, error) {
	line := p.current.Line
	if err := p.advance(); err != nil {
		return Node{}, err
	}
	coll, docID, err := p.parseTarget(false)
	if err != nil {
		return Node{}, err
	}
	fields, err := p.parseFieldBlock()
	if err != nil {
		return Node{}, err
	}
	return Node{Kind: NodeUpdate, Line: line, Collection: coll, DocID: docID, Fields: fields}, nil
}

func (p *Parser) parseDelete() (Node, error) {
	line := p.current.Line
	if err := p.advance(); err != nil {
		return Node{}, err
	}
	coll, docID, err := p.parseTarget(false)
	if err != nil {
		return Node{}, err
	}
	return Node{Kind: NodeDelete, Line: line, Collection: coll, DocID: docID}, nil
}

// parseTarget parses `@<coll>[:<id>]`. idOptional controls whether a
// missing `:<id>` is legal (true only for insert).
func (p *Parser) parseTarget(idOptional bool) (string, *Expr, error) {
	if _, err := p.expect(TokenAt); err != nil {
		return "", nil, err
	}
	collTok, err := p.expect(TokenIdent)
	if err != nil {
		return "", nil, err
	}
	if p.current.Type != TokenColon {
		if !idOptional {
			return "", nil, newError(p.current.Line, "SyntaxError", "expected `:<id>` after @%s", collTok.Literal)
		}
		return collTok.Literal, nil, nil
	}
	if err := p.advance(); err != nil { // consume ":"
		return "", nil, err
	}
	if p.current.Type != TokenIdent {
		// `insert @coll: { ... }`: a dangling colon with the id omitted is
		// the same as no colon at all.
		if idOptional {
			return collTok.Literal, nil, nil
		}
		return "", nil, newError(p.current.Line, "SyntaxError", "expected a document id after @%s:", collTok.Literal)
	}
	idExpr, err := p.parseDocIDExpr()
	if err != nil {
		return "", nil, err
	}
	return collTok.Literal, &idExpr, nil
}

// parseDocIDExpr parses either a bareword literal id or a dotted
// events.<E>.<f> / event.<f> reference.
func (p *Parser) parseDocIDExpr() (Expr, error) {
	line := p.current.Line
	tok, err := p.expect(TokenIdent)
	if err != nil {
		return Expr{}, err
	}
	if tok.Literal == "events" || tok.Literal == "event" {
		return p.parseFieldAccessTail(tok, line)
	}
	return Expr{Kind: ExprIdentLit, Line: line, StrVal: tok.Literal}, nil
}

func (p *Parser) parseFieldBlock() ([]FieldAssign, error) {
	if _, err := p.expect(TokenLBrace); err != nil {
		return nil, err
	}
	var fields []FieldAssign
	for p.current.Type != TokenRBrace {
		fLine := p.current.Line
		nameTok, err := p.expect(TokenIdent)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TokenColon); err != nil {
			return nil, err
		}
		val, err := p.parsePrimaryExpr()
		if err != nil {
			return nil, err
		}
		fields = append(fields, FieldAssign{Name: nameTok.Literal, Value: val, Line: fLine})
		if p.current.Type == TokenComma {
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	if _, err := p.expect(TokenRBrace); err != nil {
		return nil, err
	}
	return fields, nil
}

func (p *Parser) parseIf() (Node, error) {
	line := p.current.Line
	if err := p.advance(); err != nil {
		return Node{}, err
	}
	if _, err := p.expect(TokenLParen); err != nil {
		return Node{}, err
	}
	cond, err := p.parseComparison()
	if err != nil {
		return Node{}, err
	}
	if _, err := p.expect(TokenRParen); err != nil {
		return Node{}, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return Node{}, err
	}
	node := Node{Kind: NodeIf, Line: line, Cond: cond, Then: &then}
	if p.isKeyword("else") {
		if err := p.advance(); err != nil {
			return Node{}, err
		}
		elseBlock, err := p.parseBlock()
		if err != nil {
			return Node{}, err
		}
		node.Else = &elseBlock
	}
	return node, nil
}

func (p *Parser) parseComparison() (Expr, error) {
	left, err := p.parsePrimaryExpr()
	if err != nil {
		return Expr{}, err
	}
	op, ok := compareOp(p.current.Type)
	if !ok {
		return Expr{}, newError(p.current.Line, "SyntaxError", "expected a comparison operator, got %q", p.current.Literal)
	}
	line := p.current.Line
	if err := p.advance(); err != nil {
		return Expr{}, err
	}
	right, err := p.parsePrimaryExpr()
	if err != nil {
		return Expr{}, err
	}
	l, r := left, right
	return Expr{Kind: ExprCompare, Line: line, Op: op, Left: &l, Right: &r}, nil
}

func compareOp(t TokenType) (string, bool) {
	switch t {
	case TokenEq:
		return "==", true
	case TokenNeq:
		return "!=", true
	case TokenLt:
		return "<", true
	case TokenLte:
		return "<=", true
	case TokenGt:
		return ">", true
	case TokenGte:
		return ">=", true
	default:
		return "", false
	}
}

func (p *Parser) parsePrimaryExpr() (Expr, error) {
	line := p.current.Line
	switch p.current.Type {
	case TokenInt:
		lit := p.current.Literal
		if err := p.advance(); err != nil {
			return Expr{}, err
		}
		var n int64
		if _, err := fmt.Sscanf(lit, "%d", &n); err != nil {
			return Expr{}, newError(line, "SyntaxError", "invalid integer literal %q", lit)
		}
		return Expr{Kind: ExprIntLit, Line: line, IntVal: n}, nil
	case TokenString:
		lit := p.current.Literal
		if err := p.advance(); err != nil {
			return Expr{}, err
		}
		return Expr{Kind: ExprStringLit, Line: line, StrVal: lit}, nil
	case TokenIdent:
		tok := p.current
		if err := p.advance(); err != nil {
			return Expr{}, err
		}
		switch tok.Literal {
		case "true":
			return Expr{Kind: ExprBoolLit, Line: line, BoolVal: true}, nil
		case "false":
			return Expr{Kind: ExprBoolLit, Line: line, BoolVal: false}, nil
		case "events", "event":
			return p.parseFieldAccessTail(tok, line)
		default:
			return Expr{}, newError(line, "SyntaxError", "unexpected identifier %q in expression", tok.Literal)
		}
	default:
		return Expr{}, newError(line, "SyntaxError", "expected a literal or field reference, got %q", p.current.Literal)
	}
}

// parseFieldAccessTail parses the `.<EventName>.<field>` or `.<field>`
// suffix following an already-consumed `events`/`event` identifier.
func (p *Parser) parseFieldAccessTail(head Token, line int) (Expr, error) {
	if _, err := p.expect(TokenDot); err != nil {
		return Expr{}, err
	}
	first, err := p.expect(TokenIdent)
	if err != nil {
		return Expr{}, err
	}
	if head.Literal == "event" {
		// legacy short form: event.<field>; EventName resolved later against
		// the single event the trigger references.
		return Expr{Kind: ExprFieldAccess, Line: line, FieldName: first.Literal}, nil
	}
	if _, err := p.expect(TokenDot); err != nil {
		return Expr{}, err
	}
	field, err := p.expect(TokenIdent)
	if err != nil {
		return Expr{}, err
	}
	return Expr{Kind: ExprFieldAccess, Line: line, EventName: first.Literal, FieldName: field.Literal}, nil
}
