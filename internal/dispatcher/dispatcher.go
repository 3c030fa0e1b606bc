// Package dispatcher implements TriggerDispatcher (spec.md §4.8): per-monitor
// script-condition gating, ${var} template rendering over a MonitorMatch, and
// fan-out to each configured trigger with retry/backoff and failure
// aggregation.
package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
	"github.com/irfndi/chainwatch/internal/metricsserver"
	"github.com/irfndi/chainwatch/internal/models"
)

// Dispatcher fans a block's matches out to their monitors' triggers, in
// block-processing order (blockwatcher.Watcher calls Dispatch once per
// ProcessedBlock, already ordered by block number).
type Dispatcher struct {
	Monitors map[string]models.Monitor
	Triggers map[string]models.Trigger
	BaseDir  string
	Log      *logrus.Logger

	// Metrics is optional; a nil Recorder makes every recording call a no-op.
	Metrics *metricsserver.Recorder

	notifier Notifier
}

// New builds a Dispatcher. httpClient is shared across every HTTP-based
// notifier kind (Slack/Discord/Telegram/Webhook).
func New(monitors map[string]models.Monitor, triggers map[string]models.Trigger, baseDir string, httpClient *http.Client, log *logrus.Logger) *Dispatcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Dispatcher{
		Monitors: monitors,
		Triggers: triggers,
		BaseDir:  baseDir,
		Log:      log,
		notifier: newHTTPNotifier(httpClient, baseDir),
	}
}

// Dispatch runs every match in pb through its monitor's trigger_conditions
// gate, then through every configured trigger, in order.
func (d *Dispatcher) Dispatch(ctx context.Context, pb models.ProcessedBlock) error {
	for _, match := range pb.ProcessingResults {
		if err := d.dispatchMatch(ctx, match); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) dispatchMatch(ctx context.Context, match models.MonitorMatch) error {
	monitor, ok := d.Monitors[match.MonitorName]
	if !ok {
		return appErrors.NewNotifierError(false, nil, "dispatch: unknown monitor %q", match.MonitorName)
	}

	vars := buildVariables(match)

	ok, err := d.passesTriggerConditions(ctx, monitor, match)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	var failures int
	for _, name := range monitor.Triggers {
		trigger, ok := d.Triggers[name]
		if !ok {
			failures++
			d.logFailure(name, appErrors.NewNotifierError(false, nil, "dispatch: unknown trigger %q", name))
			continue
		}
		if err := d.notifyWithRetry(ctx, trigger, vars); err != nil {
			failures++
			d.logFailure(name, err)
			d.Metrics.TriggerFailed(name)
			continue
		}
		d.Metrics.TriggerDispatched(name)
	}

	if failures > 0 {
		return appErrors.NewOtherError(nil, "Some trigger(s) failed (%d failure(s))", failures)
	}
	return nil
}

// passesTriggerConditions runs every monitor.TriggerConditions gating script
// in declaration order; all must report true for dispatch to proceed
// (spec.md §4.8). A monitor with no trigger_conditions always passes. Each
// script receives the serialized match as its first argument, followed by
// the condition's statically configured arguments.
func (d *Dispatcher) passesTriggerConditions(ctx context.Context, monitor models.Monitor, match models.MonitorMatch) (bool, error) {
	if len(monitor.TriggerConditions) == 0 {
		return true, nil
	}
	serialized, err := json.Marshal(match)
	if err != nil {
		return false, appErrors.NewNotifierError(false, err, "monitor %q: serialising match", monitor.Name)
	}

	for _, tc := range monitor.TriggerConditions {
		args := append([]string{string(serialized)}, tc.Arguments...)
		ok, err := runScript(ctx, d.BaseDir, tc.ScriptPath, tc.Language, tc.TimeoutMs, args)
		if err != nil {
			return false, appErrors.NewNotifierError(false, err, "monitor %q: trigger_condition %q", monitor.Name, tc.ScriptPath)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// notifyWithRetry renders trigger's title/body and invokes its notifier,
// retrying retryable failures per trigger.Retry (spec.md §4.8). A terminal
// failure is not retried.
func (d *Dispatcher) notifyWithRetry(ctx context.Context, trigger models.Trigger, vars map[string]string) error {
	title := render(trigger.Message.Title, vars)
	body := render(trigger.Message.Body, vars)

	retry := trigger.Retry
	if retry.MaxRetries == 0 && retry.InitialInterval == 0 {
		retry = models.DefaultRetryConfig()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retry.InitialInterval
	bo.MaxInterval = retry.MaxInterval
	bo.Multiplier = retry.Multiplier
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retry.MaxRetries)), ctx)

	op := func() error {
		err := d.notifier.Notify(ctx, trigger, title, body)
		if err == nil {
			return nil
		}
		if ne, ok := err.(*appErrors.NotifierError); ok && !ne.Retryable {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(op, policy)
}

func (d *Dispatcher) logFailure(triggerName string, err error) {
	if d.Log == nil {
		return
	}
	d.Log.WithError(err).WithField("trigger", triggerName).Warn("trigger dispatch failed")
}
