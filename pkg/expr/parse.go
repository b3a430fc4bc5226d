// Package expr implements the table expression language.
//
// Expressions use Starlark expression syntax. A bare body refers to the
// current row as d (a and b in two-table contexts) and to query parameters
// as params:
//
//	d.price * d.qty
//	op.mean(d.price)
//	lambda a, b: op.equal(a.key, b.key)
//
// A lambda form names the row and parameter variables explicitly. The
// arrow spellings d => body and (a, b) => body are read as lambdas. Calls
// through op (or math) reach the function library; aggregate and window
// functions are evaluated over the current group.
package expr

import (
	"fmt"
	"strings"

	"go.starlark.net/syntax"
)

// Default variable names for bare expression bodies.
const (
	RowName    = "d"
	ParamsName = "params"
	LeftName   = "a"
	RightName  = "b"
)

var fileOptions = &syntax.FileOptions{}

// Options controls how an expression is parsed.
type Options struct {
	// Join parses the expression in a two-table context.
	Join bool
}

// ParseError reports expression source that cannot be parsed.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid expression %q: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Parsed is a parsed expression with its variable bindings resolved.
type Parsed struct {
	Source string
	// Rows holds the row variable names, one per input table.
	Rows []string
	// Params is the parameter namespace name.
	Params string
	// Body is the expression body.
	Body syntax.Expr
}

// Parse parses expression source text.
func Parse(src string, opts Options) (*Parsed, error) {
	text := src
	if lambda, ok := arrowToLambda(src); ok {
		text = lambda
	}
	e, err := fileOptions.ParseExpr("expr", text, 0)
	if err != nil {
		return nil, &ParseError{Source: src, Err: err}
	}

	arity := 1
	if opts.Join {
		arity = 2
	}

	p := &Parsed{Source: src}
	lambda, ok := e.(*syntax.LambdaExpr)
	if !ok {
		if opts.Join {
			p.Rows = []string{LeftName, RightName}
		} else {
			p.Rows = []string{RowName}
		}
		p.Params = ParamsName
		p.Body = e
		return p, nil
	}

	names := make([]string, 0, len(lambda.Params))
	for _, param := range lambda.Params {
		id, isIdent := param.(*syntax.Ident)
		if !isIdent {
			return nil, &ParseError{Source: src, Err: fmt.Errorf("lambda parameters must be plain names")}
		}
		names = append(names, id.Name)
	}
	if len(names) > arity+1 {
		return nil, &ParseError{Source: src, Err: fmt.Errorf("too many lambda parameters: %d", len(names))}
	}

	// Unnamed positions are padded with hidden names so every program has
	// the same calling convention.
	p.Rows = make([]string, arity)
	for i := range p.Rows {
		if i < len(names) {
			p.Rows[i] = names[i]
		} else {
			p.Rows[i] = fmt.Sprintf("__row%d", i)
		}
	}
	p.Params = "__params"
	if len(names) > arity {
		p.Params = names[arity]
	}
	p.Body = lambda.Body
	return p, nil
}

// arrowToLambda rewrites an arrow function head such as "d => body" or
// "(a, b) => body" into the equivalent Starlark lambda.
func arrowToLambda(src string) (string, bool) {
	head, body, found := strings.Cut(strings.TrimSpace(src), "=>")
	if !found {
		return "", false
	}
	head = strings.TrimSpace(head)
	if inner, isTuple := strings.CutPrefix(head, "("); isTuple {
		inner, closed := strings.CutSuffix(inner, ")")
		if !closed {
			return "", false
		}
		head = inner
	}
	var params []string
	if strings.TrimSpace(head) != "" {
		for _, name := range strings.Split(head, ",") {
			name = strings.TrimSpace(name)
			if !isIdent(name) {
				return "", false
			}
			params = append(params, name)
		}
	}
	if len(params) == 0 {
		return "lambda: " + strings.TrimSpace(body), true
	}
	return "lambda " + strings.Join(params, ", ") + ": " + strings.TrimSpace(body), true
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z':
		case i > 0 && '0' <= r && r <= '9':
		default:
			return false
		}
	}
	return true
}

func (p *Parsed) rowIndex(name string) int {
	for i, r := range p.Rows {
		if r == name {
			return i
		}
	}
	return -1
}
