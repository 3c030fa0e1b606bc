package models

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ScriptLanguage is the interpreter a trigger_conditions script is written in.
type ScriptLanguage string

const (
	LangPython     ScriptLanguage = "Python"
	LangJavaScript ScriptLanguage = "JavaScript"
	LangBash       ScriptLanguage = "Bash"
)

var scriptExtension = map[ScriptLanguage]string{
	LangPython:     ".py",
	LangJavaScript: ".js",
	LangBash:       ".sh",
}

// MonitorAddress is one contract address a monitor watches, optionally with
// its own contract spec reference (by address — specs are resolved lazily).
type MonitorAddress struct {
	Address      string `json:"address"`
	ContractSpec string `json:"contract_spec,omitempty"`
}

// TxStatus gates a transaction-level match condition.
type TxStatus string

const (
	TxStatusAny     TxStatus = "Any"
	TxStatusSuccess TxStatus = "Success"
	TxStatusFailure TxStatus = "Failure"
)

// EventCondition matches a decoded log against an event signature and an
// optional boolean expression over its decoded arguments.
type EventCondition struct {
	Signature  string  `json:"signature"`
	Expression *string `json:"expression,omitempty"`
}

// FunctionCondition matches a decoded call against a function signature and
// an optional boolean expression over its decoded arguments.
type FunctionCondition struct {
	Signature  string  `json:"signature"`
	Expression *string `json:"expression,omitempty"`
}

// TransactionCondition matches on tx-level status and/or an expression that
// may reference receipt-only fields.
type TransactionCondition struct {
	Status     TxStatus `json:"status"`
	Expression *string  `json:"expression,omitempty"`
}

// MatchConditions bundles the three condition kinds FilterEngine evaluates,
// in event -> function -> transaction order (spec.md §4.5).
type MatchConditions struct {
	Events       []EventCondition       `json:"events,omitempty"`
	Functions    []FunctionCondition    `json:"functions,omitempty"`
	Transactions []TransactionCondition `json:"transactions,omitempty"`
}

// Empty reports whether no conditions of any kind are declared; in that case
// Monitor.EffectiveTransactionConditions substitutes "match all transactions
// involving any of the monitor's addresses".
func (m MatchConditions) Empty() bool {
	return len(m.Events) == 0 && len(m.Functions) == 0 && len(m.Transactions) == 0
}

// TriggerCondition is a per-monitor gating script, run before TriggerDispatcher.
type TriggerCondition struct {
	ScriptPath string         `json:"script_path"`
	Language   ScriptLanguage `json:"language"`
	TimeoutMs  int64          `json:"timeout_ms"`
	Arguments  []string       `json:"arguments,omitempty"`
}

// Validate checks timeout>0 and that the extension matches the declared language.
// Existence of the file on disk is checked separately by the repository loader,
// which knows the monitor base directory.
func (tc TriggerCondition) Validate() error {
	if tc.TimeoutMs <= 0 {
		return fmt.Errorf("trigger_condition %q: timeout_ms must be > 0", tc.ScriptPath)
	}
	wantExt, ok := scriptExtension[tc.Language]
	if !ok {
		return fmt.Errorf("trigger_condition %q: unknown language %q", tc.ScriptPath, tc.Language)
	}
	if !strings.EqualFold(filepath.Ext(tc.ScriptPath), wantExt) {
		return fmt.Errorf("trigger_condition %q: extension does not match language %q (want %s)",
			tc.ScriptPath, tc.Language, wantExt)
	}
	return nil
}

// Monitor is a declarative watch spec: which networks/addresses to watch,
// what to match on, and which triggers to fire.
type Monitor struct {
	Name              string              `json:"name"`
	Paused            bool                `json:"paused"`
	Networks          []string            `json:"networks"`
	Addresses         []MonitorAddress    `json:"addresses"`
	MatchConditions   MatchConditions     `json:"match_conditions"`
	TriggerConditions []TriggerCondition  `json:"trigger_conditions,omitempty"`
	Triggers          []string            `json:"triggers"`
}

// WatchesNetwork reports whether slug is in this monitor's network set.
func (m Monitor) WatchesNetwork(slug string) bool {
	for _, n := range m.Networks {
		if n == slug {
			return true
		}
	}
	return false
}

// EffectiveTransactionConditions returns the monitor's transaction conditions,
// substituting the spec.md §4.5 default of "match everything" when the
// monitor declares no conditions of any kind.
func (m Monitor) EffectiveTransactionConditions() []TransactionCondition {
	if !m.MatchConditions.Empty() {
		return m.MatchConditions.Transactions
	}
	return []TransactionCondition{{Status: TxStatusAny}}
}
