package metricsserver

import "time"

// Recorder is the narrow set of domain counters blockwatcher and dispatcher
// emit through, so neither package needs to import gin or know how metrics
// are exposed. A nil *Recorder is valid and every method becomes a no-op,
// so wiring it into Watcher/Dispatcher is optional.
type Recorder struct {
	collector *Collector
}

// NewRecorder wraps collector. Passing a nil collector yields a Recorder
// whose methods are all no-ops.
func NewRecorder(collector *Collector) *Recorder {
	return &Recorder{collector: collector}
}

func (r *Recorder) BlockProcessed(networkSlug string) {
	if r == nil || r.collector == nil {
		return
	}
	r.collector.Counter("blocks_processed_total", "Total blocks processed per network",
		map[string]string{"network": networkSlug}).Inc()
}

func (r *Recorder) LastProcessedBlock(networkSlug string, blockNumber uint64) {
	if r == nil || r.collector == nil {
		return
	}
	r.collector.Gauge("watcher_last_processed_block", "Most recently processed block number per network",
		map[string]string{"network": networkSlug}).Set(float64(blockNumber))
}

func (r *Recorder) MatchFound(networkSlug, monitorName string) {
	if r == nil || r.collector == nil {
		return
	}
	r.collector.Counter("monitor_matches_total", "Total monitor matches produced per network/monitor",
		map[string]string{"network": networkSlug, "monitor": monitorName}).Inc()
}

func (r *Recorder) TickDuration(networkSlug string, d time.Duration) {
	if r == nil || r.collector == nil {
		return
	}
	r.collector.Gauge("watcher_tick_duration_seconds", "Duration of the most recent process_new_blocks tick per network",
		map[string]string{"network": networkSlug}).Set(d.Seconds())
}

func (r *Recorder) TriggerDispatched(triggerName string) {
	if r == nil || r.collector == nil {
		return
	}
	r.collector.Counter("trigger_dispatches_total", "Total successful trigger notifications per trigger",
		map[string]string{"trigger": triggerName}).Inc()
}

func (r *Recorder) TriggerFailed(triggerName string) {
	if r == nil || r.collector == nil {
		return
	}
	r.collector.Counter("trigger_dispatch_failures_total", "Total failed trigger notifications per trigger",
		map[string]string{"trigger": triggerName}).Inc()
}

func (r *Recorder) RPCRequest(networkSlug, method string) {
	if r == nil || r.collector == nil {
		return
	}
	r.collector.Counter("rpc_requests_total", "Total upstream RPC requests per network/method",
		map[string]string{"network": networkSlug, "method": method}).Inc()
}
