// Package blockwatcher implements BlockWatcher's process_new_blocks tick
// (spec.md §4.7): per-network progress tracking, confirmation-depth and
// max-past-blocks bounded fetch, bounded-concurrency filtering with a
// mandatory ascending-block-number reorder step, and trigger dispatch.
package blockwatcher

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/irfndi/chainwatch/internal/blockchain/evm"
	"github.com/irfndi/chainwatch/internal/blockchain/pool"
	appErrors "github.com/irfndi/chainwatch/internal/errors"
	"github.com/irfndi/chainwatch/internal/filter"
	"github.com/irfndi/chainwatch/internal/metricsserver"
	"github.com/irfndi/chainwatch/internal/models"
	"github.com/irfndi/chainwatch/internal/storage"
	"github.com/irfndi/chainwatch/internal/tracker"
)

// concurrency bounds how many blocks are filtered in parallel within one
// tick (spec.md §5).
const concurrency = 32

// MonitorSource supplies the monitors watching one network, already
// restricted to non-paused entries (repositories.Repository.NetworkMonitors).
type MonitorSource interface {
	NetworkMonitors(slug string) []models.Monitor
}

// Dispatcher receives one block's aggregated matches for trigger evaluation
// and notification, in block-number-ascending order (internal/dispatcher).
type Dispatcher interface {
	Dispatch(ctx context.Context, pb models.ProcessedBlock) error
}

// Watcher runs one process_new_blocks tick per network.
type Watcher struct {
	Pool       *pool.Pool
	Storage    *storage.BlockStorage
	Tracker    *tracker.Tracker
	Filter     *filter.Engine
	Monitors   MonitorSource
	Dispatcher Dispatcher
	Log        *logrus.Logger

	// Metrics is optional; a nil Recorder makes every recording call a no-op.
	Metrics *metricsserver.Recorder
}

// ProcessNetwork runs exactly one process_new_blocks tick for network,
// following spec.md §4.7's pseudocode.
func (w *Watcher) ProcessNetwork(ctx context.Context, network models.Network) error {
	tickStart := time.Now()
	defer func() { w.Metrics.TickDuration(network.Slug, time.Since(tickStart)) }()

	last, ok, err := w.Storage.GetLastProcessedBlock(ctx, network.Slug)
	if err != nil {
		return appErrors.NewBlockWatcherOtherError(err, "reading last processed block for %q", network.Slug)
	}
	if !ok {
		last = 0
	}

	latest, err := w.latestNumber(ctx, network)
	if err != nil {
		return err
	}

	confirmedTip := uint64(0)
	if latest > network.ConfirmationBlocks {
		confirmedTip = latest - network.ConfirmationBlocks
	}
	if confirmedTip <= last {
		if err := w.Storage.SaveLastProcessedBlock(ctx, network.Slug, confirmedTip); err != nil {
			return err
		}
		w.Metrics.LastProcessedBlock(network.Slug, confirmedTip)
		return nil
	}

	maxPast := network.RecommendedMaxPastBlocks(cronIntervalMs(network.CronSchedule))
	if network.MaxPastBlocks != nil {
		maxPast = *network.MaxPastBlocks
	}

	var start uint64
	if last == 0 {
		start = confirmedTip
	} else {
		start = last + 1
		if floor := confirmedTip - maxPast + 1; floor > start {
			start = floor
		}
	}

	blocks, err := w.fetchBlocks(ctx, network, start, confirmedTip)
	if err != nil {
		return err
	}

	if network.StoreBlocks {
		if err := w.Storage.DeleteBlocks(ctx, network.Slug); err != nil {
			return appErrors.NewBlockWatcherOtherError(err, "deleting stored blocks for %q", network.Slug)
		}
		payloads := make(map[uint64][]byte, len(blocks))
		for _, b := range blocks {
			data, err := json.Marshal(b)
			if err != nil {
				return appErrors.NewBlockWatcherOtherError(err, "serialising block %d for %q", b.Number(), network.Slug)
			}
			payloads[b.Number()] = data
		}
		if err := w.Storage.SaveBlocks(ctx, network.Slug, payloads); err != nil {
			return appErrors.NewBlockWatcherOtherError(err, "saving blocks for %q", network.Slug)
		}
	}

	for _, b := range blocks {
		for _, warn := range w.Tracker.RecordBlock(network.Slug, b.Number()) {
			w.Log.WithFields(logrus.Fields{
				"network": network.Slug,
				"block":   warn.BlockNumber,
				"kind":    warn.Kind,
			}).Warn("block tracker anomaly")
		}
	}

	if err := w.filterAndDispatch(ctx, network, blocks); err != nil {
		return err
	}

	if err := w.Storage.SaveLastProcessedBlock(ctx, network.Slug, confirmedTip); err != nil {
		return err
	}
	w.Metrics.LastProcessedBlock(network.Slug, confirmedTip)
	return nil
}

func (w *Watcher) latestNumber(ctx context.Context, network models.Network) (uint64, error) {
	switch network.Type {
	case models.ChainEVM:
		w.Metrics.RPCRequest(network.Slug, "latest_block")
		return w.Pool.EVMClient(network).LatestBlockNumber(ctx)
	case models.ChainStellar:
		w.Metrics.RPCRequest(network.Slug, "latest_block")
		return w.Pool.StellarClient(network).LatestLedgerNumber(ctx)
	default:
		return 0, appErrors.NewBlockTypeMismatchError("network %q has unknown chain type %q", network.Slug, network.Type)
	}
}

func (w *Watcher) fetchBlocks(ctx context.Context, network models.Network, start, end uint64) ([]models.Block, error) {
	w.Metrics.RPCRequest(network.Slug, "get_blocks")
	switch network.Type {
	case models.ChainEVM:
		raw, err := w.Pool.EVMClient(network).GetBlocks(ctx, start, end)
		if err != nil {
			return nil, appErrors.NewBlockWatcherOtherError(err, "fetching EVM blocks [%d,%d] for %q", start, end, network.Slug)
		}
		out := make([]models.Block, len(raw))
		for i := range raw {
			b := raw[i]
			out[i] = models.Block{Kind: models.BlockKindEVM, EVM: &b}
		}
		return out, nil
	case models.ChainStellar:
		var to *uint64
		if start != end {
			e := end
			to = &e
		}
		raw, err := w.Pool.StellarClient(network).GetBlocks(ctx, start, to)
		if err != nil {
			return nil, appErrors.NewBlockWatcherOtherError(err, "fetching Stellar ledgers [%d,%d] for %q", start, end, network.Slug)
		}
		out := make([]models.Block, len(raw))
		for i := range raw {
			l := raw[i]
			out[i] = models.Block{Kind: models.BlockKindStellar, Stellar: &l}
		}
		return out, nil
	default:
		return nil, appErrors.NewBlockTypeMismatchError("network %q has unknown chain type %q", network.Slug, network.Type)
	}
}

// filterAndDispatch runs FilterBlock over every block with bounded
// concurrency, then re-sorts by block number (the reorder step is mandatory
// per spec.md §9 even though most of the time blocks already arrive
// ordered) before handing each ProcessedBlock to the Dispatcher in order.
func (w *Watcher) filterAndDispatch(ctx context.Context, network models.Network, blocks []models.Block) error {
	monitors := w.Monitors.NetworkMonitors(network.Slug)

	type result struct {
		pb  models.ProcessedBlock
		err error
	}
	results := make([]result, len(blocks))

	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency)

	var evmClient *evm.Client
	if network.Type == models.ChainEVM {
		evmClient = w.Pool.EVMClient(network)
	}

	for i, b := range blocks {
		wg.Add(1)
		go func(idx int, block models.Block) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			matches, err := w.Filter.FilterBlock(ctx, evmClient, network, block, monitors)
			results[idx] = result{
				pb: models.ProcessedBlock{
					BlockNumber:       block.Number(),
					NetworkSlug:       network.Slug,
					ProcessingResults: matches,
				},
				err: err,
			}
		}(i, b)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].pb.BlockNumber < results[j].pb.BlockNumber })

	for _, r := range results {
		if r.err != nil {
			return r.err
		}
		w.Metrics.BlockProcessed(network.Slug)
		for _, match := range r.pb.ProcessingResults {
			w.Metrics.MatchFound(network.Slug, match.MonitorName)
		}
		if w.Dispatcher == nil {
			continue
		}
		if err := w.Dispatcher.Dispatch(ctx, r.pb); err != nil {
			return err
		}
	}
	return nil
}

// cronIntervalMs estimates a cron schedule's tick interval in milliseconds
// by measuring the gap between its next two fire times, used only as the
// input to Network.RecommendedMaxPastBlocks's fallback formula (spec.md
// §4.7) when max_past_blocks is not configured explicitly.
func cronIntervalMs(schedule string) int64 {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return 0
	}
	first := sched.Next(time.Now())
	second := sched.Next(first)
	return second.Sub(first).Milliseconds()
}
