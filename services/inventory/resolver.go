package inventory

import (
	"context"
	"fmt"
	"sort"

	"fleetops-controlplane/pkg/errutil"

	"go.uber.org/zap"
)

// Resolver turns a TargetSpec into the concrete hosts of a run.
type Resolver struct {
	repo Repository
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve returns the hosts matched by spec ordered by id ascending.
//
// Explicit targets keep disabled and unreachable hosts so they surface as
// failed results; every other kind only considers enabled hosts. An empty
// result is a NoTargets failure.
func (r *Resolver) Resolve(ctx context.Context, spec TargetSpec) ([]Host, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var (
		hosts []Host
		err   error
	)
	switch spec.Kind {
	case TargetExplicit:
		hosts, err = r.repo.GetByIDs(ctx, dedupe(spec.HostIDs))
	default:
		hosts, err = r.repo.ListEnabled(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load hosts: %w", err)
	}

	matched := make([]Host, 0, len(hosts))
	for i := range hosts {
		h := hosts[i]
		switch spec.Kind {
		case TargetTags:
			if !h.HasTags(spec.Tags) {
				continue
			}
		case TargetCapabilities:
			if !h.HasCapabilities(spec.Capabilities) {
				continue
			}
		}
		matched = append(matched, h)
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	if len(matched) == 0 {
		zap.L().Info("target resolved to no hosts", zap.String("kind", string(spec.Kind)))
		return nil, errutil.Fail(errutil.ReasonNoTargets, fmt.Sprintf("target %s matched no hosts", spec.Kind), nil)
	}
	return matched, nil
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
