package stellar

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"math/big"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
	"github.com/irfndi/chainwatch/internal/models"
)

// buildContractDataKeyXDR builds the base64 XDR LedgerKey for a contract's
// instance ContractData entry, keyed by its strkey contract address.
func buildContractDataKeyXDR(contractID string) string {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractID)
	if err != nil {
		return ""
	}
	var hash xdr.Hash
	copy(hash[:], raw)

	contract := xdr.ScAddress{
		Type:       xdr.ScAddressTypeScAddressTypeContract,
		ContractId: &hash,
	}
	key := xdr.LedgerKey{
		Type: xdr.LedgerEntryTypeContractData,
		ContractData: &xdr.LedgerKeyContractData{
			Contract:   contract,
			Key:        xdr.ScVal{Type: xdr.ScValTypeScvLedgerKeyContractInstance},
			Durability: xdr.ContractDataDurabilityPersistent,
		},
	}
	b, err := key.MarshalBinary()
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

// buildContractCodeKeyXDR builds the base64 XDR LedgerKey for a contract's
// executable ContractCode entry, keyed by its wasm hash.
func buildContractCodeKeyXDR(wasmHashHex string) string {
	raw, err := hex.DecodeString(wasmHashHex)
	if err != nil {
		return ""
	}
	var hash xdr.Hash
	copy(hash[:], raw)

	key := xdr.LedgerKey{
		Type:         xdr.LedgerEntryTypeContractCode,
		ContractCode: &xdr.LedgerKeyContractCode{Hash: hash},
	}
	b, err := key.MarshalBinary()
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}

// extractWasmHash reads the contract instance's executable wasm hash out of
// a base64 XDR-encoded LedgerEntryData.
func extractWasmHash(b64 string) string {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return ""
	}
	var entry xdr.LedgerEntryData
	if err := entry.UnmarshalBinary(raw); err != nil {
		return ""
	}
	if entry.ContractData == nil {
		return ""
	}
	instance := entry.ContractData.Val.Instance
	if instance == nil || instance.Executable.WasmHash == nil {
		return ""
	}
	return hex.EncodeToString(instance.Executable.WasmHash[:])
}

// decodeSpecFromWasm reads the base64 XDR-encoded ContractCode entry and
// extracts its declared function signatures from the embedded "contractspecv0"
// custom section entries.
func decodeSpecFromWasm(b64 string) (models.StellarContractSpec, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return models.StellarContractSpec{}, appErrors.NewDecodingError(err, "decode contract code xdr")
	}
	var entry xdr.LedgerEntryData
	if err := entry.UnmarshalBinary(raw); err != nil {
		return models.StellarContractSpec{}, appErrors.NewDecodingError(err, "unmarshal contract code ledger entry")
	}
	if entry.ContractCode == nil {
		return models.StellarContractSpec{}, appErrors.NewUnexpectedResponseStructureError("ledger entry is not ContractCode")
	}

	specs, err := extractSpecEntries(entry.ContractCode.Code)
	if err != nil {
		return models.StellarContractSpec{}, err
	}
	return models.StellarContractSpec{Functions: specs}, nil
}

// extractSpecEntries walks the wasm module's custom sections looking for
// "contractspecv0", whose payload is a sequence of XDR ScSpecEntry records
// (one per exported function, struct or union).
func extractSpecEntries(wasm []byte) ([]models.StellarSpecEntry, error) {
	section := findCustomSection(wasm, "contractspecv0")
	if section == nil {
		return nil, nil
	}

	var out []models.StellarSpecEntry
	remaining := section
	for len(remaining) > 0 {
		var spec xdr.ScSpecEntry
		read, err := xdr.Unmarshal(bytes.NewReader(remaining), &spec)
		if err != nil {
			break
		}
		remaining = remaining[read:]

		if spec.Kind != xdr.ScSpecEntryKindScSpecEntryFunctionV0 {
			continue
		}
		fn := spec.MustFunctionV0()
		entry := models.StellarSpecEntry{Name: string(fn.Name)}
		for _, input := range fn.Inputs {
			entry.Inputs = append(entry.Inputs, scSpecTypeName(input.Type))
		}
		out = append(out, entry)
	}
	return out, nil
}

func scSpecTypeName(t xdr.ScSpecTypeDef) string {
	switch t.Type {
	case xdr.ScSpecTypeScSpecTypeU64, xdr.ScSpecTypeScSpecTypeU32:
		return "uint"
	case xdr.ScSpecTypeScSpecTypeI64, xdr.ScSpecTypeScSpecTypeI32:
		return "int"
	case xdr.ScSpecTypeScSpecTypeU128, xdr.ScSpecTypeScSpecTypeU256:
		return "u256"
	case xdr.ScSpecTypeScSpecTypeI128, xdr.ScSpecTypeScSpecTypeI256:
		return "i256"
	case xdr.ScSpecTypeScSpecTypeBool:
		return "bool"
	case xdr.ScSpecTypeScSpecTypeBytes:
		return "bytes"
	case xdr.ScSpecTypeScSpecTypeString, xdr.ScSpecTypeScSpecTypeSymbol, xdr.ScSpecTypeScSpecTypeAddress:
		return "string"
	case xdr.ScSpecTypeScSpecTypeVec:
		return "vec"
	case xdr.ScSpecTypeScSpecTypeMap:
		return "map"
	default:
		return "string"
	}
}

// bigFromU128Parts reassembles an unsigned U128 (hi<<64 | lo) into a
// big.Int. It has no callers in this repository.
func bigFromU128Parts(hi, lo uint64) *big.Int {
	n := new(big.Int).SetUint64(hi)
	n.Lsh(n, 64)
	n.Or(n, new(big.Int).SetUint64(lo))
	return n
}
