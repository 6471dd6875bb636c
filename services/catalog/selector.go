package catalog

import (
	"fmt"
	"sort"
	"strings"

	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/services/inventory"
)

// Applicable reports whether tmpl can run on host for jobType.
func Applicable(host *inventory.Host, jobType *JobType, tmpl *CommandTemplate) bool {
	if tmpl.JobTypeID != jobType.ID {
		return false
	}
	if len(tmpl.OSFilter) > 0 && !containsFold(tmpl.OSFilter, host.OSFamily) {
		return false
	}
	return host.HasCapabilities(jobType.RequiredCapabilities) && host.HasCapabilities(tmpl.RequiredCapabilities)
}

// Select picks the one command variant of jobType for host.
//
// A variant with an OS filter beats a wildcard variant. The size of the filter
// does not matter, so ties between filtered variants go to the lowest id and
// the choice is repeatable for identical inputs.
func Select(host *inventory.Host, jobType *JobType, templates []CommandTemplate) (*CommandTemplate, error) {
	candidates := make([]*CommandTemplate, 0, len(templates))
	for i := range templates {
		if Applicable(host, jobType, &templates[i]) {
			candidates = append(candidates, &templates[i])
		}
	}

	if len(candidates) == 0 {
		return nil, errutil.Fail(errutil.ReasonNoApplicableTemplate,
			fmt.Sprintf("no %s variant for host %s (os=%s)", jobType.Name, host.Name, host.OSFamily), nil)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := specificity(candidates[i]), specificity(candidates[j])
		if si != sj {
			return si > sj
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0], nil
}

// specificity is 0 for a wildcard filter and 1 for any explicit filter.
func specificity(t *CommandTemplate) int {
	if len(t.OSFilter) == 0 {
		return 0
	}
	return 1
}

func containsFold(set []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, s := range set {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return true
		}
	}
	return false
}
