// Package stellar is the FilterEngine for Stellar/Soroban networks: matching
// a ledger's transactions/events against configured monitors and evaluating
// each monitor's match conditions against decoded ScVal arguments (spec.md
// §4.5, §4.5.5, §4.6.2's Stellar-specific kind rows).
package stellar

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/irfndi/chainwatch/internal/evaluator"
	"github.com/irfndi/chainwatch/internal/models"
)

// kindForScVal maps a normalised ScVal kind tag to the evaluator Kind that
// routes its comparisons (spec.md §4.5.5, §4.6.2).
func kindForScVal(k string) evaluator.Kind {
	switch k {
	case "Bool":
		return evaluator.KindBool
	case "U32", "U64", "Timepoint", "Duration":
		return evaluator.KindUint
	case "I32", "I64":
		return evaluator.KindInt
	case "U128", "U256":
		return evaluator.KindU256
	case "I128", "I256":
		return evaluator.KindI256
	case "Bytes":
		return evaluator.KindBytes
	case "String", "Symbol", "Address":
		if k == "Address" {
			return evaluator.KindAddress
		}
		return evaluator.KindString
	case "Vec":
		return evaluator.KindVec
	case "Map":
		return evaluator.KindMap
	default:
		return evaluator.KindString
	}
}

// scValValue converts one decoded ScVal into an evaluator.Value, rendering
// Vec/Map as the JSON-array/JSON-object text compareVec/compareMap expect.
func scValValue(v models.StellarScVal) evaluator.Value {
	kind := kindForScVal(v.Kind)
	if kind == evaluator.KindVec || kind == evaluator.KindMap {
		return evaluator.Value{Kind: kind, Raw: scValJSON(v)}
	}
	return evaluator.Value{Kind: kind, Raw: v.Value}
}

func scValJSON(v models.StellarScVal) string {
	switch v.Kind {
	case "Vec":
		parts := make([]string, len(v.Elements))
		for i, e := range v.Elements {
			parts[i] = scValJSONLiteral(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case "Map":
		parts := make([]string, len(v.Entries))
		for i, e := range v.Entries {
			parts[i] = fmt.Sprintf("%s:%s", strconv.Quote(e.Key.Value), scValJSONLiteral(e.Value))
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return scValJSONLiteral(v)
	}
}

func scValJSONLiteral(v models.StellarScVal) string {
	switch v.Kind {
	case "Vec", "Map":
		return scValJSON(v)
	case "Bool", "U32", "U64", "I32", "I64", "U128", "I128", "U256", "I256", "Timepoint", "Duration":
		return v.Value
	default:
		return strconv.Quote(v.Value)
	}
}

// decodeEventContext builds a bare-keyed evaluator.Context for a matched
// Soroban event: the first topic's value as "signature", remaining topics as
// "topics.<i>", and the event's data payload flattened as "args.<i>" when it
// is a Vec, or "args.value" otherwise (the contract spec does not carry
// parameter names for Stellar events).
func decodeEventContext(ev models.StellarEvent) evaluator.Context {
	ctx := evaluator.Context{}
	if len(ev.Topics) > 0 {
		ctx["signature"] = scValValue(ev.Topics[0])
		for i, t := range ev.Topics[1:] {
			ctx[fmt.Sprintf("topics.%d", i)] = scValValue(t)
		}
	}
	if ev.Data.Kind == "Vec" {
		for i, e := range ev.Data.Elements {
			ctx[fmt.Sprintf("args.%d", i)] = scValValue(e)
		}
	} else if ev.Data.Kind != "" {
		ctx["args.value"] = scValValue(ev.Data)
	}
	return ctx
}

// eventSignature returns the symbol/string naming an event, used to match
// against EventCondition.Signature.
func eventSignature(ev models.StellarEvent) string {
	if len(ev.Topics) == 0 {
		return ""
	}
	return ev.Topics[0].Value
}

// decodeOperationContext builds a bare-keyed evaluator.Context for a
// matched Soroban invokeHostFunction operation: arguments are flattened
// positionally as "args.<i>" since Stellar contract specs carry only
// argument kinds, not names (spec.md §3's ContractSpec Stellar variant).
func decodeOperationContext(op models.StellarOperation) evaluator.Context {
	ctx := evaluator.Context{
		"signature": {Kind: evaluator.KindString, Raw: op.FunctionName},
	}
	for i, arg := range op.Arguments {
		ctx[fmt.Sprintf("args.%d", i)] = scValValue(arg)
	}
	return ctx
}
