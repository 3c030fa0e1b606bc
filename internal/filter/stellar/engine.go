package stellar

import (
	"strconv"
	"strings"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
	"github.com/irfndi/chainwatch/internal/evaluator"
	"github.com/irfndi/chainwatch/internal/models"
)

// Engine is the Stellar/Soroban FilterEngine (spec.md §4.5): decodes one
// ledger's transactions/events against each watching monitor's addresses
// and produces at most one MonitorMatch per (monitor, transaction).
type Engine struct{}

// New builds a Stellar filter Engine.
func New() *Engine { return &Engine{} }

// FilterBlock implements spec.md §4.5's filter_block entry point for
// Stellar ledgers. monitors must already be restricted to those watching
// network and not paused.
func (e *Engine) FilterBlock(network models.Network, block models.Block, monitors []models.Monitor) ([]models.MonitorMatch, error) {
	if block.Kind != models.BlockKindStellar || block.Stellar == nil {
		return nil, appErrors.NewBlockTypeMismatchError("filter_block: block is not a Stellar ledger for network %q", network.Slug)
	}
	ledger := block.Stellar
	ledgerExtra := map[string]string{
		"ledger.sequence":  strconv.FormatUint(ledger.Sequence, 10),
		"ledger.closed_at": ledger.ClosedAt,
	}

	eventsByTx := map[string][]models.StellarEvent{}
	for _, ev := range ledger.Events {
		eventsByTx[ev.TxHash] = append(eventsByTx[ev.TxHash], ev)
	}

	var results []models.MonitorMatch

	for _, tx := range ledger.Transactions {
		txEvents := eventsByTx[tx.Hash]

		for _, m := range monitors {
			addrSet := addressSet(m)

			relevant := false
			for _, op := range tx.Operations {
				if _, ok := addrSet[normalizeAddr(op.ContractAddress)]; ok {
					relevant = true
					break
				}
			}
			if !relevant {
				for _, ev := range txEvents {
					if _, ok := addrSet[normalizeAddr(ev.ContractID)]; ok {
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
				Extra:       ledgerExtra,
			}
			matched := false

			for _, cond := range m.MatchConditions.Events {
				for _, ev := range txEvents {
					if _, ok := addrSet[normalizeAddr(ev.ContractID)]; !ok {
						continue
					}
					if !sameSignature(eventSignature(ev), cond.Signature) {
						continue
					}
					decoded := decodeEventContext(ev)
					ok, err := evalCondition(cond.Expression, decoded)
					if err != nil {
						return nil, err
					}
					if !ok {
						continue
					}
					match.MatchedOn.Events = append(match.MatchedOn.Events, models.MatchedEvent{
						Signature: eventSignature(ev),
						Args:      flattenArgs(decoded),
					})
					matched = true
				}
			}

			for _, cond := range m.MatchConditions.Functions {
				for _, op := range tx.Operations {
					if _, ok := addrSet[normalizeAddr(op.ContractAddress)]; !ok {
						continue
					}
					if !sameSignature(op.FunctionName, cond.Signature) {
						continue
					}
					decoded := decodeOperationContext(op)
					ok, err := evalCondition(cond.Expression, decoded)
					if err != nil {
						return nil, err
					}
					if !ok {
						continue
					}
					match.MatchedOn.Functions = append(match.MatchedOn.Functions, models.MatchedFunction{
						Signature: op.FunctionName,
						Args:      flattenArgs(decoded),
					})
					matched = true
				}
			}

			for _, cond := range m.EffectiveTransactionConditions() {
				if cond.Status == models.TxStatusSuccess && !tx.Successful {
					continue
				}
				if cond.Status == models.TxStatusFailure && tx.Successful {
					continue
				}
				if cond.Expression != nil {
					txCtx := evaluator.Context{
						"hash":       {Kind: evaluator.KindString, Raw: tx.Hash},
						"ledger":     {Kind: evaluator.KindUint, Raw: strconv.FormatUint(tx.Ledger, 10)},
						"successful": {Kind: evaluator.KindBool, Raw: boolString(tx.Successful)},
					}
					ok, err := evaluator.Evaluate(*cond.Expression, txCtx)
					if err != nil {
						return nil, appErrors.NewFilterEvaluationError(err, "evaluating transaction expression for monitor %q", m.Name)
					}
					if !ok {
						continue
					}
				}

				status := "any"
				if tx.Successful {
					status = "success"
				} else {
					status = "failure"
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

func addressSet(m models.Monitor) map[string]struct{} {
	out := make(map[string]struct{}, len(m.Addresses))
	for _, a := range m.Addresses {
		out[normalizeAddr(a.Address)] = struct{}{}
	}
	return out
}

func normalizeAddr(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sameSignature(a, b string) bool {
	norm := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, " ", ""))
	}
	return norm(a) == norm(b)
}

func evalCondition(expr *string, decoded evaluator.Context) (bool, error) {
	if expr == nil {
		return true, nil
	}
	bare := make(evaluator.Context, len(decoded))
	for k, v := range decoded {
		bare[strings.TrimPrefix(k, "args.")] = v
	}
	ok, err := evaluator.Evaluate(*expr, bare)
	if err != nil {
		return false, appErrors.NewFilterEvaluationError(err, "evaluating condition expression")
	}
	return ok, nil
}

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

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
