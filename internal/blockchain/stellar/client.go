// Package stellar implements the ChainClient for the Stellar/Soroban RPC
// surface: cursor-paginated transaction/event/ledger history and contract
// spec resolution via getLedgerEntries (spec.md §4.2.2, §4.2.3).
package stellar

import (
	"context"
	"encoding/json"
	"strings"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
	"github.com/irfndi/chainwatch/internal/models"
	"github.com/irfndi/chainwatch/internal/blockchain/transport"
)

// Client is the Stellar/Soroban ChainClient.
type Client struct {
	transport *transport.Transport
}

// New builds a Stellar Client over the given transport.
func New(t *transport.Transport) *Client {
	return &Client{transport: t}
}

type pageParams struct {
	StartLedger uint64           `json:"startLedger,omitempty"`
	Pagination  paginationCursor `json:"pagination,omitempty"`
}

type eventPageParams struct {
	StartLedger uint64           `json:"startLedger,omitempty"`
	Filters     []eventFilter    `json:"filters,omitempty"`
	Pagination  paginationCursor `json:"pagination,omitempty"`
}

// eventFilter is fixed to {type:"contract"} for every getEvents call,
// per spec.md §4.2.3.
type eventFilter struct {
	Type string `json:"type"`
}

type paginationCursor struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type txPage struct {
	Transactions []models.StellarTransaction `json:"transactions"`
	Cursor       string                      `json:"cursor"`
}

type eventPage struct {
	Events []models.StellarEvent `json:"events"`
	Cursor string                `json:"cursor"`
}

type ledgerPage struct {
	Ledgers []models.StellarLedger `json:"ledgers"`
	Cursor  string                 `json:"cursor"`
}

const defaultPageLimit = 200

// retentionWindowMessages lists the Soroban RPC error message substrings
// that, combined with JSON-RPC code -32600, indicate a requested ledger has
// aged out of the node's history retention window rather than being a
// generic RPC failure (spec.md §4.2.3, §8 scenario S3).
var retentionWindowMessages = []string{
	"must be within the ledger range",
	"must be between the oldest ledger",
}

const retentionWindowRPCCode = -32600

// classifyRPCFailure re-tags a transport-level RPC error as
// OutsideRetentionWindow when its JSON-RPC code is -32600 and its message
// matches one of the known retention-window phrasings, preserving the
// original rpc_code/message in metadata either way.
func classifyRPCFailure(err error, op string) error {
	ae, ok := err.(*appErrors.AppError)
	if !ok || !appErrors.Is(err, appErrors.KindChainClient) {
		return err
	}
	code, _ := ae.Metadata["rpc_code"].(int)
	msg := strings.ToLower(ae.Message)
	if code == retentionWindowRPCCode {
		for _, needle := range retentionWindowMessages {
			if strings.Contains(msg, needle) {
				return appErrors.NewOutsideRetentionWindowError(
					"Soroban RPC reported an error during %s: %s", op, ae.Message).
					WithMetadata("rpc_code", code).
					WithMetadata("rpc_message", ae.Message)
			}
		}
	}
	return err
}

// GetLedgers fetches every ledger in [start, end] inclusive by following the
// getLedgers cursor until a page with no cursor is returned, per the
// pagination loop in spec.md §4.2.3.
func (c *Client) GetLedgers(ctx context.Context, start, end uint64) ([]models.StellarLedger, error) {
	if start > end {
		return nil, appErrors.NewInvalidInputError("GetLedgers: start %d > end %d", start, end)
	}

	var out []models.StellarLedger
	limit := defaultPageLimit
	if start == end {
		limit = 1
	}
	cursor := ""
	for {
		params := pageParams{Pagination: paginationCursor{Cursor: cursor, Limit: limit}}
		if cursor == "" {
			params.StartLedger = start
		}
		raw, err := c.transport.SendRawRequest(ctx, "getLedgers", params)
		if err != nil {
			return nil, classifyRPCFailure(err, "getLedgers")
		}
		var page ledgerPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, appErrors.NewChainResponseParseError(err, "getLedgers: unexpected result shape")
		}
		for _, l := range page.Ledgers {
			if l.Sequence > end {
				return out, nil
			}
			out = append(out, l)
		}
		if page.Cursor == "" || len(page.Ledgers) == 0 {
			return out, nil
		}
		cursor = page.Cursor

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

// GetTransactions fetches every transaction in [start, end] inclusive via
// the same cursor-following pattern as GetLedgers.
func (c *Client) GetTransactions(ctx context.Context, start, end uint64) ([]models.StellarTransaction, error) {
	if start > end {
		return nil, appErrors.NewInvalidInputError("GetTransactions: start %d > end %d", start, end)
	}

	var out []models.StellarTransaction
	cursor := ""
	for {
		params := pageParams{Pagination: paginationCursor{Cursor: cursor, Limit: defaultPageLimit}}
		if cursor == "" {
			params.StartLedger = start
		}
		raw, err := c.transport.SendRawRequest(ctx, "getTransactions", params)
		if err != nil {
			return nil, classifyRPCFailure(err, "getTransactions")
		}
		var page txPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, appErrors.NewChainResponseParseError(err, "getTransactions: unexpected result shape")
		}
		for _, tx := range page.Transactions {
			if tx.Ledger > end {
				return out, nil
			}
			out = append(out, tx)
		}
		if page.Cursor == "" || len(page.Transactions) == 0 {
			return out, nil
		}
		cursor = page.Cursor

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

// GetEvents fetches every contract event in [start, end] inclusive.
func (c *Client) GetEvents(ctx context.Context, start, end uint64) ([]models.StellarEvent, error) {
	if start > end {
		return nil, appErrors.NewInvalidInputError("GetEvents: start %d > end %d", start, end)
	}

	var out []models.StellarEvent
	cursor := ""
	for {
		params := eventPageParams{
			Filters:    []eventFilter{{Type: "contract"}},
			Pagination: paginationCursor{Cursor: cursor, Limit: defaultPageLimit},
		}
		if cursor == "" {
			params.StartLedger = start
		}
		raw, err := c.transport.SendRawRequest(ctx, "getEvents", params)
		if err != nil {
			return nil, classifyRPCFailure(err, "getEvents")
		}
		var page eventPage
		if err := json.Unmarshal(raw, &page); err != nil {
			return nil, appErrors.NewChainResponseParseError(err, "getEvents: unexpected result shape")
		}
		for _, ev := range page.Events {
			if ev.Ledger > end {
				return out, nil
			}
			out = append(out, ev)
		}
		if page.Cursor == "" || len(page.Events) == 0 {
			return out, nil
		}
		cursor = page.Cursor

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
}

type latestLedgerResult struct {
	Sequence uint64 `json:"sequence"`
}

// LatestLedgerNumber calls getLatestLedger, satisfying the common ChainClient
// contract's latest_block() operation (spec.md §4.2.1).
func (c *Client) LatestLedgerNumber(ctx context.Context) (uint64, error) {
	raw, err := c.transport.SendRawRequest(ctx, "getLatestLedger", nil)
	if err != nil {
		return 0, classifyRPCFailure(err, "getLatestLedger")
	}
	var result latestLedgerResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, appErrors.NewChainResponseParseError(err, "getLatestLedger: unexpected result shape")
	}
	return result.Sequence, nil
}

// GetBlocks satisfies the common ChainClient contract's get_blocks(from,
// to?) operation: to=nil fetches just the single ledger `from`, using
// getLedgers' limit=1 single-ledger fetch path (spec.md §4.2.1/§4.2.3).
func (c *Client) GetBlocks(ctx context.Context, from uint64, to *uint64) ([]models.StellarLedger, error) {
	end := from
	if to != nil {
		end = *to
	}
	return c.GetLedgers(ctx, from, end)
}

type ledgerEntryResult struct {
	Entries []struct {
		Key string `json:"key"`
		XDR string `json:"xdr"`
	} `json:"entries"`
}

// GetContractSpec resolves a Soroban contract's function signatures via two
// sequential getLedgerEntries calls: first the ContractData entry to find
// the executable's wasm hash, then the ContractCode entry to read the
// custom spec section (spec.md §4.2.3).
func (c *Client) GetContractSpec(ctx context.Context, contractID string) (models.StellarContractSpec, error) {
	dataRaw, err := c.transport.SendRawRequest(ctx, "getLedgerEntries", map[string]interface{}{
		"keys": []string{contractDataKey(contractID)},
	})
	if err != nil {
		return models.StellarContractSpec{}, classifyRPCFailure(err, "getLedgerEntries")
	}
	var dataResult ledgerEntryResult
	if err := json.Unmarshal(dataRaw, &dataResult); err != nil {
		return models.StellarContractSpec{}, appErrors.NewChainResponseParseError(err, "getLedgerEntries(contract data)")
	}
	if len(dataResult.Entries) == 0 {
		return models.StellarContractSpec{}, appErrors.NewUnexpectedResponseStructureError(
			"getLedgerEntries: no contract data entry for %s", contractID)
	}
	wasmHash := extractWasmHash(dataResult.Entries[0].XDR)

	codeRaw, err := c.transport.SendRawRequest(ctx, "getLedgerEntries", map[string]interface{}{
		"keys": []string{contractCodeKey(wasmHash)},
	})
	if err != nil {
		return models.StellarContractSpec{}, classifyRPCFailure(err, "getLedgerEntries")
	}
	var codeResult ledgerEntryResult
	if err := json.Unmarshal(codeRaw, &codeResult); err != nil {
		return models.StellarContractSpec{}, appErrors.NewChainResponseParseError(err, "getLedgerEntries(contract code)")
	}
	if len(codeResult.Entries) == 0 {
		return models.StellarContractSpec{}, appErrors.NewUnexpectedResponseStructureError(
			"getLedgerEntries: no contract code entry for wasm %s", wasmHash)
	}

	return decodeSpecFromWasm(codeResult.Entries[0].XDR)
}

// contractDataKey and contractCodeKey build the XDR-encoded LedgerKey
// strings the Soroban RPC expects. The actual XDR marshalling is delegated
// to the stellar/go xdr package in decode.go; these are thin wrappers kept
// separate so the pagination methods above stay readable.
func contractDataKey(contractID string) string {
	return buildContractDataKeyXDR(contractID)
}

func contractCodeKey(wasmHash string) string {
	return buildContractCodeKeyXDR(wasmHash)
}
