package catalog

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/pkg/placeholder"
	"fleetops-controlplane/services/inventory"

	"gorm.io/datatypes"
)

// RenderedCommand is a command variant with every placeholder substituted.
type RenderedCommand struct {
	CommandTemplateID  int64
	Command            string
	WorkDir            string
	Env                map[string]string
	Timeout            time.Duration
	RetryableExitCodes []int
}

// Retryable reports whether exit code is marked retryable by the variant.
func (r *RenderedCommand) Retryable(code int) bool {
	for _, c := range r.RetryableExitCodes {
		if c == code {
			return true
		}
	}
	return false
}

// HostVariables are the built-in variables available to every command.
func HostVariables(h *inventory.Host) map[string]string {
	return map[string]string{
		"host_id":         strconv.FormatInt(h.ID, 10),
		"host_name":       h.Name,
		"host_address":    h.Address,
		"os_family":       h.OSFamily,
		"package_manager": h.PackageManager,
	}
}

// StringMap converts a JSON column into string variables.
func StringMap(m datatypes.JSONMap) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		case float64:
			out[k] = strconv.FormatFloat(val, 'f', -1, 64)
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	return out
}

// Merge layers variable maps; later layers win.
func Merge(layers ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// Render substitutes vars into the command, working directory and
// environment of tmpl. Any placeholder left without a value fails with
// UnresolvedVariable.
func Render(tmpl *CommandTemplate, vars map[string]string) (*RenderedCommand, error) {
	var missing []string

	command, m := placeholder.Render(tmpl.Command, vars)
	missing = append(missing, m...)

	workDir, m := placeholder.Render(tmpl.WorkDir, vars)
	missing = append(missing, m...)

	env := make(map[string]string, len(tmpl.Env))
	for k, v := range StringMap(tmpl.Env) {
		rendered, m := placeholder.Render(v, vars)
		missing = append(missing, m...)
		env[k] = rendered
	}

	if len(missing) > 0 {
		return nil, errutil.Fail(errutil.ReasonUnresolvedVariable,
			"unresolved variables: "+strings.Join(uniqueSorted(missing), ", "), nil)
	}

	return &RenderedCommand{
		CommandTemplateID:  tmpl.ID,
		Command:            command,
		WorkDir:            workDir,
		Env:                env,
		Timeout:            tmpl.Timeout(),
		RetryableExitCodes: tmpl.RetryableExitCodes,
	}, nil
}

func uniqueSorted(in []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
