package dispatcher

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	appErrors "github.com/irfndi/chainwatch/internal/errors"
	"github.com/irfndi/chainwatch/internal/models"
)

// interpreterFor maps a monitor's declared script language to the binary
// os/exec spawns (spec.md §4.8, original_source's trigger_conditions builder).
var interpreterFor = map[models.ScriptLanguage]string{
	models.LangPython:     "python3",
	models.LangJavaScript: "node",
	models.LangBash:       "bash",
}

// runScript spawns interpreterFor[lang] on scriptPath with args, bounded by
// timeoutMs, and interprets the final non-empty line of stdout as a boolean
// (case-insensitive, surrounding whitespace trimmed). A non-zero exit or a
// final line that isn't "true"/"false" counts as "does not match" rather than
// an error, matching spec.md §4.8.
func runScript(ctx context.Context, baseDir, scriptPath string, lang models.ScriptLanguage, timeoutMs int64, args []string) (bool, error) {
	interp, ok := interpreterFor[lang]
	if !ok {
		return false, appErrors.NewNotifierError(false, nil, "script_condition: unknown language %q", lang)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	cmdArgs := append([]string{scriptPath}, args...)
	cmd := exec.CommandContext(runCtx, interp, cmdArgs...)
	cmd.Dir = baseDir

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()

	return finalLineBool(stdout.String()) && err == nil, nil
}

// finalLineBool extracts the last non-blank line of output and reports
// whether it parses as "true" (case-insensitive). Any other final line,
// including a missing one, is "does not match".
func finalLineBool(output string) bool {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		return strings.EqualFold(line, "true")
	}
	return false
}
