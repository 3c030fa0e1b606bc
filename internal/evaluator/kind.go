// Package evaluator implements the typed boolean expression DSL used by
// EventCondition/FunctionCondition/TransactionCondition expressions: a small
// tokenizer and recursive-descent parser producing an AST, and a
// kind-directed comparator dispatch table evaluating that AST against a
// variable context built from decoded chain data (spec.md §4.6).
package evaluator

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
)

// Kind identifies how a literal or variable's printed form should be
// compared: numerically, lexically, or structurally.
type Kind string

const (
	KindUint    Kind = "uint"
	KindInt     Kind = "int"
	KindU256    Kind = "u256"
	KindI256    Kind = "i256"
	KindAddress Kind = "address"
	KindString  Kind = "string"
	KindBytes   Kind = "bytes"
	KindBool    Kind = "bool"
	KindDecimal Kind = "decimal"
	KindVec     Kind = "vec"
	KindMap     Kind = "map"
	// KindTuple is EVM-only: a nested struct/tuple parameter, printed in its
	// canonical form and compared by exact text / substring rather than
	// JSON-array semantics (spec.md §4.6.3).
	KindTuple Kind = "tuple"
)

// Value is a resolved variable or literal: a kind tag plus its printed form.
// Vec/Map values carry their printed form as a bracketed/braced literal,
// compared structurally (spec.md §4.6.3).
type Value struct {
	Kind Kind
	Raw  string
}

// compareUint compares two unsigned integer strings numerically using a
// fixed-width 256-bit integer, wide enough for any EVM uint type. Either side
// may be decimal or 0x-prefixed hex, per spec.md §4.6.2.
func compareUint(lhs, op, rhs string) (bool, error) {
	l, err := parseUint256(lhs)
	if err != nil {
		return false, appErrors.NewTypeMismatchError("uint comparison: invalid operand %q", lhs)
	}
	r, err := parseUint256(rhs)
	if err != nil {
		return false, appErrors.NewTypeMismatchError("uint comparison: invalid operand %q", rhs)
	}
	return applyCmp(l.Cmp(r), op)
}

func parseUint256(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return uint256.FromHex(s)
	}
	return uint256.FromDecimal(s)
}

// compareInt compares two signed integer strings numerically. Either side
// may be decimal or 0x-prefixed hex.
func compareInt(lhs, op, rhs string) (bool, error) {
	l, ok1 := parseSignedBig(lhs)
	r, ok2 := parseSignedBig(rhs)
	if !ok1 || !ok2 {
		return false, appErrors.NewTypeMismatchError("int comparison: invalid operand %q or %q", lhs, rhs)
	}
	return applyCmp(l.Cmp(r), op)
}

func parseSignedBig(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		n, ok := new(big.Int).SetString(s[2:], 16)
		return n, ok
	}
	return new(big.Int).SetString(s, 10)
}

// compareU256StringEquality implements the spec.md §4.6.2 special case: u256
// and i256 values only support == and != and compare by normalized decimal
// string equality (avoiding the need to parse into a fixed-width type for
// ordering operators that monitors essentially never use on 256-bit amounts).
func compareU256StringEquality(lhs, op, rhs string) (bool, error) {
	ln := normalizeDecimalString(lhs)
	rn := normalizeDecimalString(rhs)
	switch op {
	case "==":
		return ln == rn, nil
	case "!=":
		return ln != rn, nil
	default:
		return false, appErrors.NewUnsupportedOperatorError("operator %q not supported for u256/i256 (only == and !=)", op)
	}
}

func normalizeDecimalString(s string) string {
	s = strings.TrimSpace(s)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	s = strings.TrimLeft(s, "0")
	if s == "" {
		s = "0"
		neg = false
	}
	if neg {
		return "-" + s
	}
	return s
}

// compareAddress implements spec.md §4.6.2: == / != compare normalised
// addresses (0x-stripped, lowercased), but per §9's documented asymmetry the
// string-style operators compare the raw, merely case-folded form (no 0x
// stripping) rather than the normalised one.
func compareAddress(lhs, op, rhs string) (bool, error) {
	switch op {
	case "==":
		return normalizeAddress(lhs) == normalizeAddress(rhs), nil
	case "!=":
		return normalizeAddress(lhs) != normalizeAddress(rhs), nil
	case "contains":
		return strings.Contains(strings.ToLower(lhs), strings.ToLower(rhs)), nil
	case "starts_with":
		return strings.HasPrefix(strings.ToLower(lhs), strings.ToLower(rhs)), nil
	case "ends_with":
		return strings.HasSuffix(strings.ToLower(lhs), strings.ToLower(rhs)), nil
	default:
		return false, appErrors.NewUnsupportedOperatorError("operator %q not supported for address", op)
	}
}

func normalizeAddress(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	return strings.ToLower(s)
}

// compareString compares string/bytes/bytes32/symbol operands
// case-insensitively across all five supported operators (spec.md §4.6.2,
// §9: "the expression evaluator's string-kind comparison is
// case-insensitive").
func compareString(lhs, op, rhs string) (bool, error) {
	l := strings.ToLower(lhs)
	r := strings.ToLower(rhs)
	switch op {
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	case "contains":
		return strings.Contains(l, r), nil
	case "starts_with":
		return strings.HasPrefix(l, r), nil
	case "ends_with":
		return strings.HasSuffix(l, r), nil
	default:
		return false, appErrors.NewUnsupportedOperatorError("operator %q not supported for string", op)
	}
}

// compareBytes strips an optional "0x"/"0X" prefix from both operands and
// delegates to compareString, so bytes/bytes32/symbol operands support the
// same case-insensitive ==, !=, contains, starts_with, ends_with set as
// string operands (spec.md §4.6.2 groups them together).
func compareBytes(lhs, op, rhs string) (bool, error) {
	l := strings.TrimPrefix(strings.TrimPrefix(lhs, "0x"), "0X")
	r := strings.TrimPrefix(strings.TrimPrefix(rhs, "0x"), "0X")
	return compareString(l, op, r)
}

func compareBool(lhs, op, rhs string) (bool, error) {
	l := strings.EqualFold(lhs, "true")
	r := strings.EqualFold(rhs, "true")
	switch op {
	case "==":
		return l == r, nil
	case "!=":
		return l != r, nil
	default:
		return false, appErrors.NewUnsupportedOperatorError("operator %q not supported for bool (only == and !=)", op)
	}
}

func compareDecimal(lhs, op, rhs string) (bool, error) {
	l, err := decimal.NewFromString(lhs)
	if err != nil {
		return false, appErrors.NewTypeMismatchError("decimal comparison: invalid operand %q", lhs)
	}
	r, err := decimal.NewFromString(rhs)
	if err != nil {
		return false, appErrors.NewTypeMismatchError("decimal comparison: invalid operand %q", rhs)
	}
	return applyCmp(l.Cmp(r), op)
}

// compareStructural compares two printed tuple/struct literals by their
// canonical printed form rather than element-wise, matching spec.md §4.6.3:
// == / != are exact textual equality, contains is a substring search.
func compareStructural(lhs, op, rhs string) (bool, error) {
	switch op {
	case "==":
		return lhs == rhs, nil
	case "!=":
		return lhs != rhs, nil
	case "contains":
		return strings.Contains(lhs, rhs), nil
	default:
		return false, appErrors.NewUnsupportedOperatorError("operator %q not supported for tuple (only ==, != and contains)", op)
	}
}

// compareVec implements spec.md §4.6.2's vec/array rule: == / != try
// structural JSON-array equality first, falling back to normalised CSV
// equality; contains checks element membership the same way.
func compareVec(lhs, op, rhs string) (bool, error) {
	lItems, lOK := parseJSONArray(lhs)
	rItems, rOK := parseJSONArray(rhs)
	switch op {
	case "==":
		if lOK && rOK {
			return jsonEqualArrays(lItems, rItems), nil
		}
		return csvEqual(lhs, rhs), nil
	case "!=":
		eq, err := compareVec(lhs, "==", rhs)
		return !eq, err
	case "contains":
		if lOK {
			for _, item := range lItems {
				if item == strings.TrimSpace(rhs) || item == trimQuotes(rhs) {
					return true, nil
				}
			}
			return false, nil
		}
		for _, item := range strings.Split(lhs, ",") {
			if strings.TrimSpace(item) == strings.TrimSpace(rhs) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, appErrors.NewUnsupportedOperatorError("operator %q not supported for vec (only ==, !=, contains)", op)
	}
}

// compareMap implements spec.md §4.6.2's map rule: == / != structural JSON
// object equality, contains checks a value is present among the object's
// values.
func compareMap(lhs, op, rhs string) (bool, error) {
	lObj, lOK := parseJSONObject(lhs)
	rObj, rOK := parseJSONObject(rhs)
	switch op {
	case "==":
		if !lOK || !rOK {
			return false, appErrors.NewTypeMismatchError("map comparison: operand is not a JSON object")
		}
		return jsonEqualObjects(lObj, rObj), nil
	case "!=":
		eq, err := compareMap(lhs, "==", rhs)
		return !eq, err
	case "contains":
		if !lOK {
			return false, appErrors.NewTypeMismatchError("map comparison: lhs is not a JSON object")
		}
		needle := trimQuotes(strings.TrimSpace(rhs))
		for _, v := range lObj {
			if fmt.Sprintf("%v", v) == needle {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, appErrors.NewUnsupportedOperatorError("operator %q not supported for map (only ==, !=, contains)", op)
	}
}

func parseJSONArray(s string) ([]string, bool) {
	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &raw); err != nil {
		return nil, false
	}
	out := make([]string, len(raw))
	for i, r := range raw {
		out[i] = strings.TrimSpace(string(r))
	}
	return out, true
}

func jsonEqualArrays(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if trimQuotes(a[i]) != trimQuotes(b[i]) {
			return false
		}
	}
	return true
}

func parseJSONObject(s string) (map[string]interface{}, bool) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func jsonEqualObjects(a, b map[string]interface{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		bv, ok := b[k]
		if !ok || fmt.Sprintf("%v", v) != fmt.Sprintf("%v", bv) {
			return false
		}
	}
	return true
}

func csvEqual(lhs, rhs string) bool {
	l := strings.Split(lhs, ",")
	r := strings.Split(rhs, ",")
	if len(l) != len(r) {
		return false
	}
	for i := range l {
		if strings.TrimSpace(l[i]) != strings.TrimSpace(r[i]) {
			return false
		}
	}
	return true
}

func trimQuotes(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func applyCmp(cmp int, op string) (bool, error) {
	switch op {
	case "==":
		return cmp == 0, nil
	case "!=":
		return cmp != 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	default:
		return false, appErrors.NewUnsupportedOperatorError("unknown operator %q", op)
	}
}

// CompareFinalValues is the kind-directed comparator router described in
// spec.md §4.6.4: given the operand kind and both operands' printed forms,
// dispatch to the comparator appropriate for that kind.
func CompareFinalValues(kind Kind, lhs string, op string, rhs string) (bool, error) {
	switch Kind(strings.ToLower(string(kind))) {
	case KindUint:
		return compareUint(lhs, op, rhs)
	case KindInt:
		return compareInt(lhs, op, rhs)
	case KindU256, KindI256:
		return compareU256StringEquality(lhs, op, rhs)
	case KindAddress:
		return compareAddress(lhs, op, rhs)
	case KindString:
		return compareString(lhs, op, rhs)
	case KindBytes:
		return compareBytes(lhs, op, rhs)
	case KindBool:
		return compareBool(lhs, op, rhs)
	case KindDecimal:
		return compareDecimal(lhs, op, rhs)
	case KindVec:
		return compareVec(lhs, op, rhs)
	case KindMap:
		return compareMap(lhs, op, rhs)
	case KindTuple:
		return compareStructural(lhs, op, rhs)
	default:
		return false, appErrors.NewTypeMismatchError("unknown comparison kind %q", kind)
	}
}
