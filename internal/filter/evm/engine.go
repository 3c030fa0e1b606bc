package evm

import (
	"context"
	"math/big"
	"strings"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
	"github.com/irfndi/chainwatch/internal/evaluator"
	"github.com/irfndi/chainwatch/internal/models"
)

// Client is the subset of the EVM ChainClient the filter engine calls. It is
// satisfied by blockchain/evm.Client; declaring it here (rather than
// importing that package) keeps the filter engine testable against a stub
// without pulling the transport/RPC stack into its tests.
type Client interface {
	GetReceipt(ctx context.Context, txHash string) (models.EVMReceipt, error)
	GetLogsForBlocks(ctx context.Context, from, to uint64) ([]models.EVMLog, error)
}

// Engine is the EVM FilterEngine (spec.md §4.5): decodes one block's
// transactions/logs against each watching monitor's contract specs and
// produces at most one MonitorMatch per (monitor, transaction).
type Engine struct{}

// New builds an EVM filter Engine. It carries no state: contract specs and
// clients are passed in per call, since they are owned by the repository and
// pool respectively.
func New() *Engine { return &Engine{} }

// FilterBlock implements spec.md §4.5's filter_block entry point for EVM
// blocks. monitors must already be restricted to those watching network and
// not paused (repositories.Repository.NetworkMonitors does this). specs maps
// a MonitorAddress.ContractSpec identifier to its loaded EVMContractSpec.
func (e *Engine) FilterBlock(ctx context.Context, client Client, network models.Network, block models.Block, monitors []models.Monitor, specs map[string]models.EVMContractSpec) ([]models.MonitorMatch, error) {
	if block.Kind != models.BlockKindEVM || block.EVM == nil {
		return nil, appErrors.NewBlockTypeMismatchError("filter_block: block is not an EVM block for network %q", network.Slug)
	}
	blk := block.EVM
	num := blk.Number()

	needLogs := false
	for _, m := range monitors {
		if len(m.MatchConditions.Events) > 0 {
			needLogs = true
			break
		}
	}

	logsByTx := map[string][]models.EVMLog{}
	if needLogs {
		logs, err := client.GetLogsForBlocks(ctx, num, num)
		if err != nil {
			return nil, appErrors.NewDecodingError(err, "fetching logs for block %d", num)
		}
		for _, l := range logs {
			logsByTx[strings.ToLower(l.TxHash)] = append(logsByTx[strings.ToLower(l.TxHash)], l)
		}
	}

	receiptCache := map[string]*models.EVMReceipt{}
	getReceipt := func(txHash string) (*models.EVMReceipt, error) {
		key := strings.ToLower(txHash)
		if r, ok := receiptCache[key]; ok {
			return r, nil
		}
		r, err := client.GetReceipt(ctx, txHash)
		if err != nil {
			return nil, err
		}
		receiptCache[key] = &r
		return &r, nil
	}

	var results []models.MonitorMatch

	for _, tx := range blk.Transactions {
		txLogs := logsByTx[strings.ToLower(tx.Hash)]

		for _, m := range monitors {
			addrSpec := addressToSpecID(m)

			relevant := addrSpec[normalizeAddr(tx.To)] != "" || addrSpec[normalizeAddr(tx.From)] != ""
			if !relevant {
				for _, l := range txLogs {
					if _, ok := addrSpec[normalizeAddr(l.Address)]; ok {
						relevant = true
						break
					}
				}
			}
			if !relevant {
				continue
			}

			match := models.MonitorMatch{
				MonitorName: m.Name,
				NetworkSlug: network.Slug,
				TxHash:      tx.Hash,
				TxFrom:      tx.From,
				TxTo:        tx.To,
				TxValue:     hexToDecimalString(tx.Value),
			}
			matched := false

			for _, cond := range m.MatchConditions.Events {
				for _, l := range txLogs {
					specID, ok := addrSpec[normalizeAddr(l.Address)]
					if !ok {
						continue
					}
					spec, ok := specs[specID]
					if !ok || len(l.Topics) == 0 {
						continue
					}
					topic0, err := hexToTopic(l.Topics[0])
					if err != nil {
						continue
					}
					ev, ok := spec.EventByTopic0(topic0)
					if !ok || !sameSignature(ev.Signature, cond.Signature) {
						continue
					}

					decoded, err := decodeEventLog(ev, l)
					if err != nil {
						return nil, err
					}
					ok, err = evalCondition(cond.Expression, decoded)
					if err != nil {
						return nil, err
					}
					if !ok {
						continue
					}
					match.Logs = append(match.Logs, l)
					match.MatchedOn.Events = append(match.MatchedOn.Events, models.MatchedEvent{
						Signature: ev.Signature,
						Args:      flattenArgs(decoded),
					})
					matched = true
				}
			}

			if specID, ok := addrSpec[normalizeAddr(tx.To)]; ok {
				if spec, ok := specs[specID]; ok {
					if sel, err := selectorFromInput(tx.Input); err == nil {
						if fn, ok := spec.FunctionBySelector(sel); ok {
							for _, cond := range m.MatchConditions.Functions {
								if !sameSignature(fn.Signature, cond.Signature) {
									continue
								}
								decoded, err := decodeFunctionCall(fn, tx.Input)
								if err != nil {
									return nil, err
								}
								ok, err := evalCondition(cond.Expression, decoded)
								if err != nil {
									return nil, err
								}
								if !ok {
									continue
								}
								match.MatchedOn.Functions = append(match.MatchedOn.Functions, models.MatchedFunction{
									Signature: fn.Signature,
									Args:      flattenArgs(decoded),
								})
								matched = true
							}
						}
					}
				}
			}

			for _, cond := range m.EffectiveTransactionConditions() {
				needReceipt := cond.Status != models.TxStatusAny || cond.Expression != nil
				var receipt *models.EVMReceipt
				if needReceipt {
					var err error
					receipt, err = getReceipt(tx.Hash)
					if err != nil {
						return nil, appErrors.NewDecodingError(err, "fetching receipt for %s", tx.Hash)
					}
				}

				if cond.Status != models.TxStatusAny {
					success := receipt != nil && receipt.Status == "0x1"
					if cond.Status == models.TxStatusSuccess && !success {
						continue
					}
					if cond.Status == models.TxStatusFailure && success {
						continue
					}
				}

				if cond.Expression != nil {
					txCtx := transactionContext(tx, receipt)
					ok, err := evaluator.Evaluate(*cond.Expression, txCtx)
					if err != nil {
						return nil, appErrors.NewFilterEvaluationError(err, "evaluating transaction expression for monitor %q", m.Name)
					}
					if !ok {
						continue
					}
				}

				status := "any"
				if receipt != nil {
					if receipt.Status == "0x1" {
						status = "success"
					} else {
						status = "failure"
					}
				}
				match.Receipt = receipt
				if receipt != nil {
					match.Extra = receiptExtra(receipt)
				}
				match.MatchedOn.Transactions = append(match.MatchedOn.Transactions, models.MatchedTransaction{Status: status})
				matched = true
			}

			if matched {
				results = append(results, match)
			}
		}
	}

	return results, nil
}

// addressToSpecID builds a normalised-address -> contract-spec-id lookup for
// one monitor's declared addresses.
func addressToSpecID(m models.Monitor) map[string]string {
	out := make(map[string]string, len(m.Addresses))
	for _, a := range m.Addresses {
		out[normalizeAddr(a.Address)] = a.ContractSpec
	}
	return out
}

// normalizeAddr implements spec.md §4.5.2's address normalisation: strip
// 0x/0X, drop whitespace, lowercase.
func normalizeAddr(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	return strings.ToLower(s)
}

// sameSignature implements spec.md §4.5.2's signature normalisation: drop
// whitespace, lowercase, compare byte-equal.
func sameSignature(a, b string) bool {
	norm := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, " ", ""))
	}
	return norm(a) == norm(b)
}

// evalCondition evaluates expr (nil means "always match") against a decoded
// args.<name>-keyed context, first flattening it to bare names so monitor
// authors write `to == 0x...` rather than `args.to == 0x...` (spec.md §8 S1).
func evalCondition(expr *string, decoded evaluator.Context) (bool, error) {
	if expr == nil {
		return true, nil
	}
	bare := stripArgsPrefix(decoded)
	ok, err := evaluator.Evaluate(*expr, bare)
	if err != nil {
		return false, appErrors.NewFilterEvaluationError(err, "evaluating condition expression")
	}
	return ok, nil
}

func stripArgsPrefix(ctx evaluator.Context) evaluator.Context {
	out := make(evaluator.Context, len(ctx))
	for k, v := range ctx {
		out[strings.TrimPrefix(k, "args.")] = v
	}
	return out
}

// flattenArgs renders a decoded args.<name>-keyed context into the plain
// name->string map MatchedEvent/MatchedFunction carry.
func flattenArgs(ctx evaluator.Context) map[string]string {
	out := make(map[string]string, len(ctx))
	for k, v := range ctx {
		if name, ok := strings.CutPrefix(k, "args."); ok {
			out[name] = v.Raw
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func selectorFromInput(input string) ([4]byte, error) {
	data, err := hexToBytes(input)
	if err != nil {
		return [4]byte{}, err
	}
	var sel [4]byte
	if len(data) < 4 {
		return sel, appErrors.NewDecodingError(nil, "transaction input too short for a function selector")
	}
	copy(sel[:], data[:4])
	return sel, nil
}

func hexToTopic(s string) ([32]byte, error) {
	b, err := hexToBytes(s)
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

// transactionContext builds the bare-keyed evaluator.Context for a
// TransactionCondition's expression, covering tx fields and (when fetched)
// receipt-only fields.
func transactionContext(tx models.EVMTransaction, receipt *models.EVMReceipt) evaluator.Context {
	ctx := evaluator.Context{
		"hash":      {Kind: evaluator.KindString, Raw: tx.Hash},
		"from":      {Kind: evaluator.KindAddress, Raw: tx.From},
		"to":        {Kind: evaluator.KindAddress, Raw: tx.To},
		"value":     {Kind: evaluator.KindUint, Raw: hexToDecimalString(tx.Value)},
		"nonce":     {Kind: evaluator.KindUint, Raw: hexToDecimalString(tx.Nonce)},
		"gas":       {Kind: evaluator.KindUint, Raw: hexToDecimalString(tx.Gas)},
		"gas_price": {Kind: evaluator.KindUint, Raw: hexToDecimalString(tx.GasPrice)},
	}
	if receipt != nil {
		ctx["status"] = evaluator.Value{Kind: evaluator.KindBool, Raw: boolString(receipt.Status == "0x1")}
		ctx["gas_used"] = evaluator.Value{Kind: evaluator.KindUint, Raw: hexToDecimalString(receipt.GasUsed)}
		ctx["cumulative_gas_used"] = evaluator.Value{Kind: evaluator.KindUint, Raw: hexToDecimalString(receipt.CumulativeGasUsed)}
		if receipt.ContractAddress != "" {
			ctx["contract_address"] = evaluator.Value{Kind: evaluator.KindAddress, Raw: receipt.ContractAddress}
		}
	}
	return ctx
}

// receiptExtra renders a receipt's fields as "receipt.*" template variables
// (spec.md §4.8's EVM-specific extras).
func receiptExtra(r *models.EVMReceipt) map[string]string {
	out := map[string]string{
		"receipt.status":              boolString(r.Status == "0x1"),
		"receipt.gas_used":            hexToDecimalString(r.GasUsed),
		"receipt.cumulative_gas_used": hexToDecimalString(r.CumulativeGasUsed),
	}
	if r.ContractAddress != "" {
		out["receipt.contract_address"] = r.ContractAddress
	}
	return out
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func hexToDecimalString(hex string) string {
	s := strings.TrimPrefix(strings.TrimPrefix(hex, "0x"), "0X")
	if s == "" {
		return "0"
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return "0"
	}
	return n.String()
}
