package evaluator

import (
	appErrors "github.com/irfndi/chainwatch/internal/errors"
)

// Context resolves a variable name (e.g. "value", "args.amount",
// "receipt.status") to its typed, printed-form Value. Filters build one of
// these per decoded event/function/transaction before calling Evaluate.
type Context map[string]Value

// Evaluate parses expr and evaluates it against vars, returning the boolean
// result. A variable referenced in expr but absent from vars is a
// VariableNotFound error, not a false result, so monitor authors notice a
// typo instead of silently never matching (spec.md §4.6).
func Evaluate(expr string, vars Context) (bool, error) {
	ast, err := parse(expr)
	if err != nil {
		return false, err
	}
	return evalNode(ast, vars)
}

func evalNode(n *node, vars Context) (bool, error) {
	switch n.kind {
	case nodeAnd:
		l, err := evalNode(n.left, vars)
		if err != nil {
			return false, err
		}
		if !l {
			return false, nil // short-circuit
		}
		return evalNode(n.right, vars)
	case nodeOr:
		l, err := evalNode(n.left, vars)
		if err != nil {
			return false, err
		}
		if l {
			return true, nil // short-circuit
		}
		return evalNode(n.right, vars)
	case nodeNot:
		v, err := evalNode(n.operand, vars)
		if err != nil {
			return false, err
		}
		return !v, nil
	case nodeComparison:
		return evalComparison(n, vars)
	default:
		return false, appErrors.NewEvalParseError("unknown ast node kind %d", n.kind)
	}
}

func evalComparison(n *node, vars Context) (bool, error) {
	val, ok := vars[n.lhsVar]
	if !ok {
		return false, appErrors.NewVariableNotFoundError("variable %q not found in evaluation context", n.lhsVar)
	}
	return CompareFinalValues(val.Kind, val.Raw, n.op, n.literal.raw)
}
