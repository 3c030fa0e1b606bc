// Package filter is the top-level FilterEngine dispatcher (spec.md §4.5):
// it routes a tagged Block to the EVM or Stellar chain-specific engine based
// on its Kind, rejecting a Block/Network kind mismatch before either engine
// sees it.
package filter

import (
	"context"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
	evmfilter "github.com/irfndi/chainwatch/internal/filter/evm"
	stellarfilter "github.com/irfndi/chainwatch/internal/filter/stellar"
	"github.com/irfndi/chainwatch/internal/models"
)

// EVMClient is the subset of evm.Client the filter dispatcher calls.
type EVMClient interface {
	GetReceipt(ctx context.Context, txHash string) (models.EVMReceipt, error)
	GetLogsForBlocks(ctx context.Context, from, to uint64) ([]models.EVMLog, error)
}

// Engine dispatches FilterBlock to the chain-specific engine for a Network's
// type, holding the EVM contract-spec table loaded by the repository.
type Engine struct {
	evm     *evmfilter.Engine
	stellar *stellarfilter.Engine
	specs   map[string]models.EVMContractSpec
}

// New builds the top-level Engine. specs is the repository's loaded EVM
// contract-spec table (Repository.ContractSpecs); Stellar monitors need no
// equivalent table since their operations self-describe (FunctionName).
func New(specs map[string]models.EVMContractSpec) *Engine {
	return &Engine{
		evm:     evmfilter.New(),
		stellar: stellarfilter.New(),
		specs:   specs,
	}
}

// FilterBlock decodes block against every monitor watching network,
// producing the ordered list of matches for that single block (spec.md
// §4.5's filter_block, called once per block by the BlockWatcher pipeline).
func (e *Engine) FilterBlock(ctx context.Context, client EVMClient, network models.Network, block models.Block, monitors []models.Monitor) ([]models.MonitorMatch, error) {
	switch network.Type {
	case models.ChainEVM:
		if block.Kind != models.BlockKindEVM {
			return nil, appErrors.NewBlockTypeMismatchError("filter_block: network %q is EVM but block is %s", network.Slug, block.Kind)
		}
		return e.evm.FilterBlock(ctx, client, network, block, monitors, e.specs)
	case models.ChainStellar:
		if block.Kind != models.BlockKindStellar {
			return nil, appErrors.NewBlockTypeMismatchError("filter_block: network %q is Stellar but block is %s", network.Slug, block.Kind)
		}
		return e.stellar.FilterBlock(network, block, monitors)
	default:
		return nil, appErrors.NewBlockTypeMismatchError("filter_block: network %q has unknown chain type %q", network.Slug, network.Type)
	}
}
