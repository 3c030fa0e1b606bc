// Package evm is the FilterEngine for EVM networks: decoding a block's
// transactions/logs against configured ABI specs and evaluating each
// monitor's match conditions against the decoded arguments (spec.md §4.5,
// §4.6.2's EVM argument-kind mapping).
package evm

import (
	"fmt"
	"math/big"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
	"github.com/irfndi/chainwatch/internal/evaluator"
	"github.com/irfndi/chainwatch/internal/models"
)

// Selector returns the 4-byte function selector keccak256("name(types)")[:4].
func Selector(signature string) [4]byte {
	var sel [4]byte
	copy(sel[:], crypto.Keccak256([]byte(signature))[:4])
	return sel
}

// Topic0 returns the 32-byte event topic keccak256("name(types)").
func Topic0(signature string) [32]byte {
	var topic [32]byte
	copy(topic[:], crypto.Keccak256([]byte(signature)))
	return topic
}

// abiArguments builds go-ethereum abi.Arguments from our plain ABIInput
// list, used to unpack both function call data and event log data.
func abiArguments(inputs []models.ABIInput) (abi.Arguments, error) {
	var args abi.Arguments
	for _, in := range inputs {
		t, err := abi.NewType(in.Type, "", nil)
		if err != nil {
			return nil, appErrors.NewDecodingError(err, "abi type %q for argument %q", in.Type, in.Name)
		}
		args = append(args, abi.Argument{Name: in.Name, Type: t, Indexed: in.Indexed})
	}
	return args, nil
}

// decodeFunctionCall unpacks a transaction's input data (selector-stripped)
// against fn's declared inputs, returning a Context keyed by "args.<name>"
// plus the bare function "signature".
func decodeFunctionCall(fn models.ABIFunction, input string) (evaluator.Context, error) {
	ctx := evaluator.Context{
		"signature": {Kind: evaluator.KindString, Raw: fn.Signature},
	}

	data, err := hexToBytes(input)
	if err != nil {
		return nil, appErrors.NewDecodingError(err, "decoding tx input for %s", fn.Signature)
	}
	if len(data) < 4 {
		return ctx, nil
	}
	body := data[4:]

	args, err := abiArguments(fn.Inputs)
	if err != nil {
		return nil, err
	}
	values, err := args.UnpackValues(body)
	if err != nil {
		return nil, appErrors.NewDecodingError(err, "unpacking call data for %s", fn.Signature)
	}

	for i, in := range fn.Inputs {
		if i >= len(values) {
			break
		}
		v, err := toValue(in.Type, values[i])
		if err != nil {
			return nil, err
		}
		ctx["args."+in.Name] = v
	}
	return ctx, nil
}

// decodeEventLog unpacks a log's topics+data against ev's declared inputs
// (indexed params come from topics[1:], non-indexed from data), returning a
// Context keyed by "args.<name>" plus the bare event "signature".
func decodeEventLog(ev models.ABIEvent, log models.EVMLog) (evaluator.Context, error) {
	ctx := evaluator.Context{
		"signature": {Kind: evaluator.KindString, Raw: ev.Signature},
	}

	var indexed, nonIndexed []models.ABIInput
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		} else {
			nonIndexed = append(nonIndexed, in)
		}
	}

	// indexed args: topics[1:] (topics[0] is the event signature hash)
	for i, in := range indexed {
		topicIdx := i + 1
		if topicIdx >= len(log.Topics) {
			break
		}
		raw, err := hexToBytes(log.Topics[topicIdx])
		if err != nil {
			return nil, appErrors.NewDecodingError(err, "decoding topic for %s.%s", ev.Signature, in.Name)
		}
		v, err := decodeIndexedTopic(in.Type, raw)
		if err != nil {
			return nil, err
		}
		ctx["args."+in.Name] = v
	}

	if len(nonIndexed) > 0 {
		args, err := abiArguments(nonIndexed)
		if err != nil {
			return nil, err
		}
		data, err := hexToBytes(log.Data)
		if err != nil {
			return nil, appErrors.NewDecodingError(err, "decoding log data for %s", ev.Signature)
		}
		values, err := args.UnpackValues(data)
		if err != nil {
			return nil, appErrors.NewDecodingError(err, "unpacking log data for %s", ev.Signature)
		}
		for i, in := range nonIndexed {
			if i >= len(values) {
				break
			}
			v, err := toValue(in.Type, values[i])
			if err != nil {
				return nil, err
			}
			ctx["args."+in.Name] = v
		}
	}
	return ctx, nil
}

// decodeIndexedTopic decodes one 32-byte topic word for an indexed event
// parameter. Value types (uint/int/address/bool/bytesN) are recovered
// directly from the topic; dynamic types (string/bytes/arrays/tuples) are
// represented only by their keccak hash per the EVM log encoding, so the
// decoded value is that hash's hex form.
func decodeIndexedTopic(solidityType string, raw [32]byte) (evaluator.Value, error) {
	kind := kindForSolidityType(solidityType)
	switch {
	case strings.HasSuffix(solidityType, "]"):
		// array: topic carries keccak256(value)
		return evaluator.Value{Kind: evaluator.KindBytes, Raw: fmt.Sprintf("0x%x", raw)}, nil
	case solidityType == "address":
		addr := common.BytesToAddress(raw[12:])
		return evaluator.Value{Kind: evaluator.KindAddress, Raw: addr.Hex()}, nil
	case solidityType == "bool":
		v := raw[31] != 0
		return evaluator.Value{Kind: evaluator.KindBool, Raw: fmt.Sprintf("%v", v)}, nil
	case strings.HasPrefix(solidityType, "uint"):
		return evaluator.Value{Kind: kind, Raw: new(big.Int).SetBytes(raw[:]).String()}, nil
	case strings.HasPrefix(solidityType, "int"):
		return evaluator.Value{Kind: kind, Raw: signedFromTwosComplement(raw[:]).String()}, nil
	case strings.HasPrefix(solidityType, "bytes") && solidityType != "bytes":
		return evaluator.Value{Kind: evaluator.KindBytes, Raw: fmt.Sprintf("0x%x", raw)}, nil
	default:
		// dynamic type (string, bytes, array, tuple): topic carries keccak256(value)
		return evaluator.Value{Kind: evaluator.KindBytes, Raw: fmt.Sprintf("0x%x", raw)}, nil
	}
}

// signedFromTwosComplement reinterprets a 32-byte big-endian two's-complement
// word as a signed big.Int.
func signedFromTwosComplement(raw []byte) *big.Int {
	v := new(big.Int).SetBytes(raw)
	if raw[0]&0x80 == 0 {
		return v
	}
	mod := new(big.Int).Lsh(big.NewInt(1), uint(len(raw)*8))
	return v.Sub(v, mod)
}

func hexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	out := make([]byte, len(s)/2)
	_, err := fmt.Sscanf(s, "%x", &out)
	if err != nil && s != "" {
		return nil, err
	}
	return out, nil
}

// toValue maps a decoded Go value (as returned by go-ethereum's abi
// unpacker) to an evaluator.Value, choosing the evaluator Kind from the
// Solidity type name per spec.md §4.6.2.
func toValue(solidityType string, v interface{}) (evaluator.Value, error) {
	kind := kindForSolidityType(solidityType)

	switch val := v.(type) {
	case common.Address:
		return evaluator.Value{Kind: evaluator.KindAddress, Raw: val.Hex()}, nil
	case bool:
		return evaluator.Value{Kind: evaluator.KindBool, Raw: fmt.Sprintf("%v", val)}, nil
	case string:
		return evaluator.Value{Kind: evaluator.KindString, Raw: val}, nil
	case []byte:
		return evaluator.Value{Kind: evaluator.KindBytes, Raw: fmt.Sprintf("0x%x", val)}, nil
	case *big.Int:
		return evaluator.Value{Kind: kind, Raw: val.String()}, nil
	default:
		if kind == evaluator.KindTuple || kind == evaluator.KindVec {
			return evaluator.Value{Kind: kind, Raw: canonicalPrint(reflect.ValueOf(val))}, nil
		}
		return evaluator.Value{Kind: evaluator.KindString, Raw: fmt.Sprintf("%v", val)}, nil
	}
}

// canonicalPrint renders a decoded tuple/array abi value in the canonical
// printed form used for == / contains comparisons (spec.md §4.6.3), e.g.
// (true,"title","author",123,"0x1234",["fiction","bestseller"],("seq",321)).
func canonicalPrint(v reflect.Value) string {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Struct:
		parts := make([]string, v.NumField())
		for i := 0; i < v.NumField(); i++ {
			parts[i] = canonicalPrint(v.Field(i))
		}
		return "(" + strings.Join(parts, ",") + ")"
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return fmt.Sprintf("0x%x", v.Interface())
		}
		parts := make([]string, v.Len())
		for i := 0; i < v.Len(); i++ {
			parts[i] = canonicalPrint(v.Index(i))
		}
		return "[" + strings.Join(parts, ",") + "]"
	case reflect.String:
		return fmt.Sprintf("%q", v.String())
	case reflect.Bool:
		return fmt.Sprintf("%v", v.Bool())
	default:
		if addr, ok := v.Interface().(common.Address); ok {
			return fmt.Sprintf("%q", addr.Hex())
		}
		if bi, ok := v.Interface().(*big.Int); ok {
			return bi.String()
		}
		return fmt.Sprintf("%v", v.Interface())
	}
}

// kindForSolidityType maps a Solidity ABI type name to the evaluator Kind
// that routes its comparisons. Every EVM integer width up to uint256/int256
// is the generic Kind{U,I}int, compared as a full-width ordered integer via
// holiman/uint256 (spec.md §4.6.2's "uint{8..256}" row); KindU256/KindI256
// are reserved for Stellar's distinct fixed-256-bit ScVal kinds, which only
// support equality.
func kindForSolidityType(t string) evaluator.Kind {
	switch {
	case t == "tuple" || strings.HasPrefix(t, "tuple"):
		return evaluator.KindTuple
	case strings.HasSuffix(t, "]"):
		return evaluator.KindVec
	case strings.HasPrefix(t, "uint"):
		return evaluator.KindUint
	case strings.HasPrefix(t, "int"):
		return evaluator.KindInt
	case t == "address":
		return evaluator.KindAddress
	case t == "bool":
		return evaluator.KindBool
	case t == "string":
		return evaluator.KindString
	case strings.HasPrefix(t, "bytes"):
		return evaluator.KindBytes
	default:
		return evaluator.KindString
	}
}
