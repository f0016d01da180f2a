package engine

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/taskforge/taskforge/types"
)

// EvalCondition evaluates a run_if expression against the given
// variable scope and reports whether the guarded task should run.
//
// Grammar, loosest binding first:
//
//	or   := and ( "||" and )*
//	and  := cmp ( "&&" cmp )*
//	cmp  := unary ( ( "==" | "!=" | "<" | ">" | "<=" | ">=" ) unary )?
//	unary:= "!" unary | primary
//	prim := number | "string" | true | false | ident | "(" or ")"
//
// Identifiers use dot paths resolved through nested maps, e.g.
// params.region or outputs.build.artifact. Unresolved paths evaluate
// to nil, which is falsy and compares unequal to any value.
// An empty expression is true: an absent guard never blocks a task.
func EvalCondition(expr string, vars map[string]any) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return true, nil
	}
	toks, err := scanCondition(expr)
	if err != nil {
		return false, err
	}
	p := condParser{toks: toks, vars: vars}
	v, err := p.or()
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("condition: trailing input at %q", p.toks[p.pos].text)
	}
	return truthy(v), nil
}

// conditionVars assembles the lookup scope for a task's run_if guard:
// its params, the outputs of its resolved dependencies keyed by task
// name, and env (reserved for loader-injected values).
func conditionVars(task *types.Task, deps map[string]types.Outputs, env map[string]any) map[string]any {
	params := make(map[string]any, len(task.Params))
	for k, v := range task.Params {
		params[k] = v
	}
	outputs := make(map[string]any, len(deps))
	for name, out := range deps {
		m := make(map[string]any, len(out))
		for k, v := range out {
			m[k] = v
		}
		outputs[name] = m
	}
	if env == nil {
		env = map[string]any{}
	}
	return map[string]any{
		"params":  params,
		"outputs": outputs,
		"env":     env,
	}
}

type condTokKind int

const (
	condNum condTokKind = iota
	condStr
	condIdent
	condOp
	condLParen
	condRParen
)

type condTok struct {
	kind condTokKind
	text string
}

func scanCondition(src string) ([]condTok, error) {
	var toks []condTok
	rs := []rune(src)
	for i := 0; i < len(rs); {
		ch := rs[i]
		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == '(':
			toks = append(toks, condTok{condLParen, "("})
			i++
		case ch == ')':
			toks = append(toks, condTok{condRParen, ")"})
			i++
		case ch == '"':
			var sb strings.Builder
			j := i + 1
			for j < len(rs) && rs[j] != '"' {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
				}
				sb.WriteRune(rs[j])
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("condition: unterminated string at offset %d", i)
			}
			toks = append(toks, condTok{condStr, sb.String()})
			i = j + 1
		case isCondOpStart(ch):
			if i+1 < len(rs) {
				two := string(rs[i : i+2])
				switch two {
				case "==", "!=", "<=", ">=", "&&", "||":
					toks = append(toks, condTok{condOp, two})
					i += 2
					continue
				}
			}
			if ch == '&' || ch == '|' || ch == '=' {
				return nil, fmt.Errorf("condition: unexpected %q at offset %d", string(ch), i)
			}
			toks = append(toks, condTok{condOp, string(ch)})
			i++
		case unicode.IsDigit(ch) || (ch == '-' && i+1 < len(rs) && unicode.IsDigit(rs[i+1]) && negAllowed(toks)):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			toks = append(toks, condTok{condNum, string(rs[i:j])})
			i = j
		case unicode.IsLetter(ch) || ch == '_':
			j := i
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_' || rs[j] == '.') {
				j++
			}
			toks = append(toks, condTok{condIdent, string(rs[i:j])})
			i = j
		default:
			return nil, fmt.Errorf("condition: unexpected %q at offset %d", string(ch), i)
		}
	}
	return toks, nil
}

func isCondOpStart(ch rune) bool {
	return ch == '=' || ch == '!' || ch == '<' || ch == '>' || ch == '&' || ch == '|'
}

// negAllowed reports whether a leading '-' starts a negative number
// rather than being stray input. True at the start of the expression
// and after an operator or opening parenthesis.
func negAllowed(toks []condTok) bool {
	if len(toks) == 0 {
		return true
	}
	k := toks[len(toks)-1].kind
	return k == condOp || k == condLParen
}

type condParser struct {
	toks []condTok
	pos  int
	vars map[string]any
}

func (p *condParser) next() *condTok {
	if p.pos < len(p.toks) {
		return &p.toks[p.pos]
	}
	return nil
}

func (p *condParser) or() (any, error) {
	v, err := p.and()
	if err != nil {
		return nil, err
	}
	for t := p.next(); t != nil && t.kind == condOp && t.text == "||"; t = p.next() {
		p.pos++
		r, err := p.and()
		if err != nil {
			return nil, err
		}
		v = truthy(v) || truthy(r)
	}
	return v, nil
}

func (p *condParser) and() (any, error) {
	v, err := p.cmp()
	if err != nil {
		return nil, err
	}
	for t := p.next(); t != nil && t.kind == condOp && t.text == "&&"; t = p.next() {
		p.pos++
		r, err := p.cmp()
		if err != nil {
			return nil, err
		}
		v = truthy(v) && truthy(r)
	}
	return v, nil
}

func (p *condParser) cmp() (any, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	t := p.next()
	if t == nil || t.kind != condOp {
		return left, nil
	}
	switch t.text {
	case "==", "!=", "<", ">", "<=", ">=":
		p.pos++
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		return compare(left, t.text, right), nil
	}
	return left, nil
}

func (p *condParser) unary() (any, error) {
	if t := p.next(); t != nil && t.kind == condOp && t.text == "!" {
		p.pos++
		v, err := p.unary()
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	return p.primary()
}

func (p *condParser) primary() (any, error) {
	t := p.next()
	if t == nil {
		return nil, fmt.Errorf("condition: unexpected end of expression")
	}
	switch t.kind {
	case condNum:
		p.pos++
		return strconv.ParseFloat(t.text, 64)
	case condStr:
		p.pos++
		return t.text, nil
	case condIdent:
		p.pos++
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return lookupPath(t.text, p.vars), nil
	case condLParen:
		p.pos++
		v, err := p.or()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t == nil || t.kind != condRParen {
			return nil, fmt.Errorf("condition: missing closing parenthesis")
		}
		p.pos++
		return v, nil
	}
	return nil, fmt.Errorf("condition: unexpected token %q", t.text)
}

// lookupPath walks a dot path through nested string maps. Any missing
// segment or non-map intermediate yields nil.
func lookupPath(path string, vars map[string]any) any {
	var cur any = vars
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if cur, ok = m[seg]; !ok {
			return nil
		}
	}
	return cur
}

func compare(left any, op string, right any) bool {
	if left == nil || right == nil {
		switch op {
		case "==":
			return left == right
		case "!=":
			return left != right
		case "<=", ">=":
			return left == right
		default:
			return false
		}
	}
	if lf, ok := asFloat(left); ok {
		if rf, ok := asFloat(right); ok {
			return orderedCmp(lf, rf, op)
		}
	}
	return orderedCmp(fmt.Sprintf("%v", left), fmt.Sprintf("%v", right), op)
}

func orderedCmp[T float64 | string](l, r T, op string) bool {
	switch op {
	case "==":
		return l == r
	case "!=":
		return l != r
	case "<":
		return l < r
	case ">":
		return l > r
	case "<=":
		return l <= r
	case ">=":
		return l >= r
	}
	return false
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case string:
		return x != "" && x != "false" && x != "0"
	default:
		return true
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}
