package dispatcher

import (
	"fmt"
	"strings"

	"github.com/irfndi/chainwatch/internal/models"
)

// buildVariables flattens one MonitorMatch into the ${var} template variable
// set TriggerDispatcher renders against (spec.md §4.8). Event/function
// signature and an argument literally named "signature" never collide:
// "events.<i>.signature" is distinct from "events.<i>.args.signature".
func buildVariables(match models.MonitorMatch) map[string]string {
	vars := map[string]string{
		"monitor.name":        match.MonitorName,
		"network.slug":        match.NetworkSlug,
		"transaction.hash":    match.TxHash,
		"transaction.from":    match.TxFrom,
		"transaction.to":      match.TxTo,
		"transaction.value":   match.TxValue,
	}

	for i, ev := range match.MatchedOn.Events {
		prefix := fmt.Sprintf("events.%d.", i)
		vars[prefix+"signature"] = ev.Signature
		for name, val := range ev.Args {
			vars[prefix+"args."+name] = val
		}
	}

	for i, fn := range match.MatchedOn.Functions {
		prefix := fmt.Sprintf("functions.%d.", i)
		vars[prefix+"signature"] = fn.Signature
		for name, val := range fn.Args {
			vars[prefix+"args."+name] = val
		}
	}

	for i, tx := range match.MatchedOn.Transactions {
		vars[fmt.Sprintf("transactions.%d.status", i)] = tx.Status
	}

	for k, v := range match.Extra {
		vars[k] = v
	}

	return vars
}

// render substitutes every "${name}" occurrence in template with vars[name],
// an empty string when name is not present (spec.md §4.8).
func render(template string, vars map[string]string) string {
	var out strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			out.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end < 0 {
			out.WriteString(rest)
			break
		}
		end += start

		out.WriteString(rest[:start])
		name := rest[start+2 : end]
		out.WriteString(vars[name])
		rest = rest[end+1:]
	}
	return out.String()
}
