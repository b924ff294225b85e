package template

import "fmt"

// Operator precedence, lowest first:
//
//	||
//	&&
//	== != < <= > >= in
//	+ -
//	* / %
//	! - (unary)
//	.name [index] [lo:hi] f(args)
type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) isPunct(text string) bool {
	t := p.peek()
	return t.kind == tokPunct && t.text == text
}

func (p *parser) accept(text string) bool {
	if p.isPunct(text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if !p.accept(text) {
		t := p.peek()
		return fmt.Errorf("at %d: expected %q, got %s", t.pos, text, describe(t))
	}
	return nil
}

func describe(t token) string {
	switch t.kind {
	case tokEOF:
		return "end of expression"
	case tokString:
		return fmt.Sprintf("string %q", t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

func (p *parser) parseExpr() (expr, error) {
	return p.parseOr()
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &logicalExpr{op: "||", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseCompare()
	if err != nil {
		return nil, err
	}
	for p.accept("&&") {
		right, err := p.parseCompare()
		if err != nil {
			return nil, err
		}
		left = &logicalExpr{op: "&&", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseCompare() (expr, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	op := ""
	switch {
	case t.kind == tokPunct && (t.text == "==" || t.text == "!=" || t.text == "<" || t.text == "<=" || t.text == ">" || t.text == ">="):
		op = t.text
	case t.kind == tokIdent && t.text == "in":
		op = "in"
	default:
		return left, nil
	}
	p.next()
	right, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	return &binaryExpr{op: op, left: left, right: right}, nil
}

func (p *parser) parseAdditive() (expr, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := p.next().text
		right, err := p.parseMultiplicative()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseMultiplicative() (expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") || p.isPunct("%") {
		op := p.next().text
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: op, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (expr, error) {
	if p.isPunct("!") || p.isPunct("-") {
		op := p.next().text
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: op, operand: operand}, nil
	}
	return p.parsePostfix()
}

func (p *parser) parsePostfix() (expr, error) {
	x, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("."):
			t := p.next()
			if t.kind != tokIdent {
				return nil, fmt.Errorf("at %d: expected property name, got %s", t.pos, describe(t))
			}
			x = &memberExpr{target: x, name: t.text}
		case p.accept("["):
			x, err = p.parseIndexOrSlice(x)
			if err != nil {
				return nil, err
			}
		case p.isPunct("("):
			id, ok := x.(*identExpr)
			if !ok {
				return nil, fmt.Errorf("at %d: only builtin functions can be called", p.peek().pos)
			}
			p.next()
			args, err := p.parseList(")")
			if err != nil {
				return nil, err
			}
			fn, ok := lookupBuiltin(id.name)
			if !ok {
				return nil, fmt.Errorf("unknown function %q", id.name)
			}
			x = &callExpr{name: id.name, fn: fn, args: args}
		default:
			return x, nil
		}
	}
}

func (p *parser) parseIndexOrSlice(target expr) (expr, error) {
	var lo, hi expr
	var err error
	if !p.isPunct(":") {
		lo, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.accept("]") {
			return &indexExpr{target: target, index: lo}, nil
		}
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	if !p.isPunct("]") {
		hi, err = p.parseExpr()
		if err != nil {
			return nil, err
		}
	}
	if err := p.expect("]"); err != nil {
		return nil, err
	}
	return &sliceExpr{target: target, lo: lo, hi: hi}, nil
}

func (p *parser) parseList(closer string) ([]expr, error) {
	var items []expr
	if p.accept(closer) {
		return items, nil
	}
	for {
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.accept(closer) {
			return items, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}

func (p *parser) parsePrimary() (expr, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		return &literalExpr{value: t.num}, nil
	case tokString:
		return &literalExpr{value: t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &literalExpr{value: true}, nil
		case "false":
			return &literalExpr{value: false}, nil
		case "null":
			return &literalExpr{value: nil}, nil
		}
		return &identExpr{name: t.text}, nil
	case tokPunct:
		switch t.text {
		case "(":
			inner, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expect(")"); err != nil {
				return nil, err
			}
			return inner, nil
		case "[":
			items, err := p.parseList("]")
			if err != nil {
				return nil, err
			}
			return &listExpr{items: items}, nil
		case "{":
			return p.parseObjectLiteral()
		}
	}
	return nil, fmt.Errorf("at %d: unexpected %s", t.pos, describe(t))
}

func (p *parser) parseObjectLiteral() (expr, error) {
	obj := &objectExpr{}
	if p.accept("}") {
		return obj, nil
	}
	for {
		k := p.next()
		if k.kind != tokIdent && k.kind != tokString {
			return nil, fmt.Errorf("at %d: expected object key, got %s", k.pos, describe(k))
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		obj.keys = append(obj.keys, k.text)
		obj.values = append(obj.values, v)
		if p.accept("}") {
			return obj, nil
		}
		if err := p.expect(","); err != nil {
			return nil, err
		}
	}
}
