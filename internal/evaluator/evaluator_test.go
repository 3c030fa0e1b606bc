package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateUintComparison(t *testing.T) {
	ctx := Context{"value": {Kind: KindUint, Raw: "1000000000000000000"}}
	ok, err := Evaluate("value > 500000000000000000", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate("value < 500000000000000000", ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateAddressEqualityIsCaseInsensitive(t *testing.T) {
	ctx := Context{"from": {Kind: KindAddress, Raw: "0xAbCdEf"}}
	ok, err := Evaluate(`from == "0xabcdef"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateAndOr(t *testing.T) {
	ctx := Context{
		"value":  {Kind: KindUint, Raw: "100"},
		"status": {Kind: KindString, Raw: "success"},
	}
	ok, err := Evaluate(`value > 50 && status == "success"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(`value > 500 || status == "success"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateNotAndParens(t *testing.T) {
	ctx := Context{"value": {Kind: KindUint, Raw: "10"}}
	ok, err := Evaluate(`!(value > 100)`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateU256OnlySupportsEquality(t *testing.T) {
	ctx := Context{"amount": {Kind: KindU256, Raw: "000115792089237316195423570985008687907853269984665640564039457584007913129639935"}}
	ok, err := Evaluate("amount == 115792089237316195423570985008687907853269984665640564039457584007913129639935", ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Evaluate("amount > 1", ctx)
	require.Error(t, err)
}

func TestEvaluateUnknownVariableErrors(t *testing.T) {
	_, err := Evaluate("missing == 1", Context{})
	require.Error(t, err)
}

func TestEvaluateStringOperators(t *testing.T) {
	ctx := Context{"symbol": {Kind: KindString, Raw: "USDC-mainnet"}}
	ok, err := Evaluate(`symbol contains "mainnet"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Evaluate(`symbol starts_with "USDC"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateVecEqualityIsStructural(t *testing.T) {
	ctx := Context{"tags": {Kind: KindVec, Raw: "[1,2,3]"}}
	ok, err := Evaluate(`tags == "[1,2,3]"`, ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = Evaluate(`tags > "[1,2,3]"`, ctx)
	require.Error(t, err)
}

func TestEvaluateDecimalComparison(t *testing.T) {
	ctx := Context{"price": {Kind: KindDecimal, Raw: "1.5"}}
	ok, err := Evaluate("price >= 1.5", ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateBoolComparison(t *testing.T) {
	ctx := Context{"paused": {Kind: KindBool, Raw: "false"}}
	ok, err := Evaluate("paused == false", ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}
