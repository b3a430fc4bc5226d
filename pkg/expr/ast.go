package expr

import (
	"fmt"
	"math/big"

	"go.starlark.net/syntax"
)

// Node is one node of a JSON-compatible expression tree.
type Node = map[string]any

// Names of the function namespaces.
const (
	opNamespace   = "op"
	mathNamespace = "math"
)

// ParseAST parses src and translates it to a structured expression tree.
func ParseAST(src string, opts Options) (Node, error) {
	p, err := Parse(src, opts)
	if err != nil {
		return nil, err
	}
	return p.AST()
}

// AST translates the expression body to a structured tree with ESTree-style
// node types: Column, Parameter, Literal, CallExpression and so on.
func (p *Parsed) AST() (Node, error) {
	n, err := p.node(p.Body)
	if err != nil {
		return nil, &ParseError{Source: p.Source, Err: err}
	}
	return n, nil
}

var binaryOperators = map[syntax.Token]string{
	syntax.PLUS:       "+",
	syntax.MINUS:      "-",
	syntax.STAR:       "*",
	syntax.SLASH:      "/",
	syntax.SLASHSLASH: "//",
	syntax.PERCENT:    "%",
	syntax.EQL:        "===",
	syntax.NEQ:        "!==",
	syntax.LT:         "<",
	syntax.GT:         ">",
	syntax.LE:         "<=",
	syntax.GE:         ">=",
	syntax.IN:         "in",
	syntax.NOT_IN:     "not in",
	syntax.PIPE:       "|",
	syntax.AMP:        "&",
	syntax.CIRCUMFLEX: "^",
	syntax.LTLT:       "<<",
	syntax.GTGT:       ">>",
}

var unaryOperators = map[syntax.Token]string{
	syntax.NOT:   "!",
	syntax.MINUS: "-",
	syntax.PLUS:  "+",
	syntax.TILDE: "~",
}

func isNamespace(name string) bool {
	return name == opNamespace || name == mathNamespace
}

func (p *Parsed) column(row int, name string) Node {
	n := Node{"type": "Column", "name": name}
	if len(p.Rows) > 1 {
		n["table"] = row + 1
	}
	return n
}

func (p *Parsed) node(e syntax.Expr) (Node, error) {
	switch x := e.(type) {
	case *syntax.ParenExpr:
		return p.node(x.X)

	case *syntax.Literal:
		return literalNode(x)

	case *syntax.Ident:
		switch x.Name {
		case "True":
			return Node{"type": "Literal", "value": true, "raw": "True"}, nil
		case "False":
			return Node{"type": "Literal", "value": false, "raw": "False"}, nil
		case "None":
			return Node{"type": "Literal", "value": nil, "raw": "None"}, nil
		}
		return Node{"type": "Identifier", "name": x.Name}, nil

	case *syntax.DotExpr:
		if id, ok := x.X.(*syntax.Ident); ok {
			if row := p.rowIndex(id.Name); row >= 0 {
				return p.column(row, x.Name.Name), nil
			}
			if id.Name == p.Params {
				return Node{"type": "Parameter", "name": x.Name.Name}, nil
			}
			if isNamespace(id.Name) {
				return nil, fmt.Errorf("function %s.%s must be called", id.Name, x.Name.Name)
			}
		}
		obj, err := p.node(x.X)
		if err != nil {
			return nil, err
		}
		return Node{
			"type":     "MemberExpression",
			"object":   obj,
			"property": Node{"type": "Identifier", "name": x.Name.Name},
			"computed": false,
		}, nil

	case *syntax.IndexExpr:
		if id, ok := x.X.(*syntax.Ident); ok {
			if row := p.rowIndex(id.Name); row >= 0 {
				if lit, isLit := x.Y.(*syntax.Literal); isLit && lit.Token == syntax.STRING {
					return p.column(row, lit.Value.(string)), nil
				}
			}
		}
		obj, err := p.node(x.X)
		if err != nil {
			return nil, err
		}
		prop, err := p.node(x.Y)
		if err != nil {
			return nil, err
		}
		return Node{"type": "MemberExpression", "object": obj, "property": prop, "computed": true}, nil

	case *syntax.CallExpr:
		return p.call(x)

	case *syntax.BinaryExpr:
		left, err := p.node(x.X)
		if err != nil {
			return nil, err
		}
		right, err := p.node(x.Y)
		if err != nil {
			return nil, err
		}
		switch x.Op {
		case syntax.AND:
			return Node{"type": "LogicalExpression", "left": left, "operator": "&&", "right": right}, nil
		case syntax.OR:
			return Node{"type": "LogicalExpression", "left": left, "operator": "||", "right": right}, nil
		}
		op, ok := binaryOperators[x.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported operator %s", x.Op)
		}
		return Node{"type": "BinaryExpression", "left": left, "operator": op, "right": right}, nil

	case *syntax.UnaryExpr:
		op, ok := unaryOperators[x.Op]
		if !ok {
			return nil, fmt.Errorf("unsupported unary operator %s", x.Op)
		}
		arg, err := p.node(x.X)
		if err != nil {
			return nil, err
		}
		return Node{"type": "UnaryExpression", "operator": op, "argument": arg, "prefix": true}, nil

	case *syntax.CondExpr:
		test, err := p.node(x.Cond)
		if err != nil {
			return nil, err
		}
		cons, err := p.node(x.True)
		if err != nil {
			return nil, err
		}
		alt, err := p.node(x.False)
		if err != nil {
			return nil, err
		}
		return Node{"type": "ConditionalExpression", "test": test, "consequent": cons, "alternate": alt}, nil

	case *syntax.ListExpr:
		return p.array(x.List)

	case *syntax.TupleExpr:
		return p.array(x.List)

	case *syntax.DictExpr:
		props := make([]any, 0, len(x.List))
		for _, item := range x.List {
			entry := item.(*syntax.DictEntry)
			key, err := p.node(entry.Key)
			if err != nil {
				return nil, err
			}
			val, err := p.node(entry.Value)
			if err != nil {
				return nil, err
			}
			props = append(props, Node{"type": "Property", "key": key, "value": val})
		}
		return Node{"type": "ObjectExpression", "properties": props}, nil

	default:
		return nil, fmt.Errorf("unsupported expression %T", e)
	}
}

func (p *Parsed) array(list []syntax.Expr) (Node, error) {
	elems := make([]any, len(list))
	for i, item := range list {
		n, err := p.node(item)
		if err != nil {
			return nil, err
		}
		elems[i] = n
	}
	return Node{"type": "ArrayExpression", "elements": elems}, nil
}

func (p *Parsed) call(x *syntax.CallExpr) (Node, error) {
	var name string
	switch fn := x.Fn.(type) {
	case *syntax.DotExpr:
		id, ok := fn.X.(*syntax.Ident)
		if !ok || !isNamespace(id.Name) {
			return nil, fmt.Errorf("unsupported function call")
		}
		name = fn.Name.Name
	case *syntax.Ident:
		name = fn.Name
	default:
		return nil, fmt.Errorf("unsupported function call")
	}

	args := make([]any, 0, len(x.Args))
	for _, arg := range x.Args {
		if u, ok := arg.(*syntax.UnaryExpr); ok && u.Op == syntax.STAR {
			inner, err := p.node(u.X)
			if err != nil {
				return nil, err
			}
			args = append(args, Node{"type": "SpreadElement", "argument": inner})
			continue
		}
		if b, ok := arg.(*syntax.BinaryExpr); ok && b.Op == syntax.EQ {
			return nil, fmt.Errorf("keyword arguments are not supported in %s()", name)
		}
		n, err := p.node(arg)
		if err != nil {
			return nil, err
		}
		args = append(args, n)
	}
	return Node{
		"type":      "CallExpression",
		"callee":    Node{"type": "Function", "name": name},
		"arguments": args,
	}, nil
}

func literalNode(x *syntax.Literal) (Node, error) {
	var value any
	switch v := x.Value.(type) {
	case int64:
		value = float64(v)
	case *big.Int:
		f, _ := new(big.Float).SetInt(v).Float64()
		value = f
	case float64:
		value = v
	case string:
		value = v
	default:
		return nil, fmt.Errorf("unsupported literal %s", x.Raw)
	}
	return Node{"type": "Literal", "value": value, "raw": x.Raw}, nil
}
