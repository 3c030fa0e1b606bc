// Package repositories loads and validates the on-disk monitor/network/
// trigger configuration: JSON files under <monitor-path>/{networks,monitors,
// triggers}, cross-referenced and validated as a whole (spec.md §6, §9).
package repositories

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
	"github.com/irfndi/chainwatch/internal/filter/evm"
	"github.com/irfndi/chainwatch/internal/models"
)

// Repository holds every loaded network/monitor/trigger keyed by its slug or
// name, immutable after Load returns.
type Repository struct {
	BaseDir  string
	Networks map[string]models.Network
	Monitors map[string]models.Monitor
	Triggers map[string]models.Trigger

	// ContractSpecs holds EVM ABI specs loaded from baseDir/contract_specs,
	// keyed by file stem (without .json). A MonitorAddress.ContractSpec
	// references one of these keys. Stellar contract specs are resolved
	// dynamically via the chain client instead (spec.md §4.2.1).
	ContractSpecs map[string]models.EVMContractSpec
}

// Load reads every *.json file under baseDir/networks, baseDir/monitors and
// baseDir/triggers, but does not cross-validate references; call ValidateAll
// for that.
func Load(baseDir string) (*Repository, error) {
	repo := &Repository{
		BaseDir:       baseDir,
		Networks:      map[string]models.Network{},
		Monitors:      map[string]models.Monitor{},
		Triggers:      map[string]models.Trigger{},
		ContractSpecs: map[string]models.EVMContractSpec{},
	}

	networks, err := loadJSONDir[models.Network](filepath.Join(baseDir, "networks"))
	if err != nil {
		return nil, err
	}
	for _, n := range networks {
		if err := n.Validate(); err != nil {
			return nil, appErrors.NewValidationError("network %q: %v", n.Slug, err)
		}
		repo.Networks[n.Slug] = n
	}

	monitors, err := loadJSONDir[models.Monitor](filepath.Join(baseDir, "monitors"))
	if err != nil {
		return nil, err
	}
	for _, m := range monitors {
		repo.Monitors[m.Name] = m
	}

	triggers, err := loadJSONDir[models.Trigger](filepath.Join(baseDir, "triggers"))
	if err != nil {
		return nil, err
	}
	for _, t := range triggers {
		repo.Triggers[t.Name] = t
	}

	specDir := filepath.Join(baseDir, "contract_specs")
	entries, err := os.ReadDir(specDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, appErrors.NewLoadError(err, "reading directory %s", specDir)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(specDir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, appErrors.NewLoadError(err, "reading %s", path)
		}
		var spec models.EVMContractSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, appErrors.NewLoadError(err, "parsing %s", path)
		}
		// Selector/Topic0 are derived, not stored in the JSON file; compute
		// them once here so lookups by selector/topic0 work at filter time.
		for i, fn := range spec.Functions {
			spec.Functions[i].Selector = evm.Selector(fn.Signature)
		}
		for i, ev := range spec.Events {
			spec.Events[i].Topic0 = evm.Topic0(ev.Signature)
		}
		stem := strings.TrimSuffix(e.Name(), ".json")
		repo.ContractSpecs[stem] = spec
	}

	return repo, nil
}

// loadJSONDir reads every *.json file directly under dir and unmarshals each
// into T. A missing directory is not an error: it is treated as empty.
func loadJSONDir[T any](dir string) ([]T, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewLoadError(err, "reading directory %s", dir)
	}

	var out []T
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, appErrors.NewLoadError(err, "reading %s", path)
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, appErrors.NewLoadError(err, "parsing %s", path)
		}
		out = append(out, v)
	}
	return out, nil
}

// ValidateAll cross-references every monitor against the loaded networks and
// triggers, and checks every trigger_conditions script exists on disk with
// an extension matching its declared language. This backs the --check CLI
// mode described in spec.md §6.
func (r *Repository) ValidateAll() error {
	var problems []string

	for name, m := range r.Monitors {
		if len(m.Networks) == 0 {
			problems = append(problems, fmt.Sprintf("monitor %q: no networks declared", name))
		}
		for _, slug := range m.Networks {
			if _, ok := r.Networks[slug]; !ok {
				problems = append(problems, fmt.Sprintf("monitor %q: unknown network %q", name, slug))
			}
		}
		for _, triggerName := range m.Triggers {
			if _, ok := r.Triggers[triggerName]; !ok {
				problems = append(problems, fmt.Sprintf("monitor %q: unknown trigger %q", name, triggerName))
			}
		}
		for _, tc := range m.TriggerConditions {
			if err := tc.Validate(); err != nil {
				problems = append(problems, fmt.Sprintf("monitor %q: %v", name, err))
				continue
			}
			fullPath := filepath.Join(r.BaseDir, tc.ScriptPath)
			if _, err := os.Stat(fullPath); err != nil {
				problems = append(problems, fmt.Sprintf("monitor %q: trigger_condition script %q not found", name, tc.ScriptPath))
			}
		}
	}

	for name, t := range r.Triggers {
		if t.Script != nil {
			fullPath := filepath.Join(r.BaseDir, t.Script.Command)
			if _, err := os.Stat(fullPath); err != nil {
				problems = append(problems, fmt.Sprintf("trigger %q: script %q not found", name, t.Script.Command))
			}
		}
	}

	if len(problems) > 0 {
		return appErrors.NewValidationError("configuration invalid:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

// NetworkMonitors returns every monitor that watches the given network slug
// and is not paused, in a deterministic order (sorted by name) so that
// per-block processing order is reproducible.
func (r *Repository) NetworkMonitors(slug string) []models.Monitor {
	var out []models.Monitor
	for _, m := range r.Monitors {
		if m.Paused {
			continue
		}
		if m.WatchesNetwork(slug) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
