package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetops-controlplane/pkg/errutil"
	"fleetops-controlplane/services/inventory"

	"gorm.io/gorm"
)

// Step is one resolved unit of work of a plan. Simple templates have a single
// implicit step whose Candidates are every variant of the job type. A
// composite step runs exactly the template it references, so its only
// candidate is Reference.
type Step struct {
	Order             int
	Name              string
	Reference         CommandTemplate
	JobType           JobType
	Candidates        []CommandTemplate
	Overrides         map[string]string
	ContinueOnFailure bool
	TimeoutOverride   time.Duration
}

// Plan is everything needed to run a job template, loaded once per run so
// hosts never read the catalog concurrently.
type Plan struct {
	Template JobTemplate
	JobType  JobType
	Steps    []Step
}

// Planner loads plans from the catalog.
type Planner struct {
	repo Repository
}

func NewPlanner(repo Repository) *Planner {
	return &Planner{repo: repo}
}

// Load builds the plan of job template id.
func (p *Planner) Load(ctx context.Context, id int64) (*Plan, error) {
	tmpl, err := p.repo.GetJobTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound(fmt.Sprintf("job template %d not found", id), err)
		}
		return nil, err
	}

	jobType, err := p.repo.GetJobType(ctx, tmpl.JobTypeID)
	if err != nil {
		return nil, fmt.Errorf("load job type %d: %w", tmpl.JobTypeID, err)
	}

	type stepRef struct {
		order     int
		name      string
		ref       int64
		overrides map[string]string
		cont      bool
		timeout   time.Duration
	}

	var refs []stepRef
	if tmpl.Composite {
		if len(tmpl.Steps) == 0 {
			return nil, errutil.UnprocessableEntity(fmt.Sprintf("composite job template %d has no steps", id), nil)
		}
		for _, s := range tmpl.Steps {
			r := stepRef{order: s.StepOrder, name: s.Name, ref: s.CommandTemplateID, overrides: StringMap(s.VariableOverrides), cont: s.ContinueOnFailure}
			if s.TimeoutSeconds != nil {
				r.timeout = time.Duration(*s.TimeoutSeconds) * time.Second
			}
			refs = append(refs, r)
		}
	} else {
		if tmpl.CommandTemplateID == nil {
			return nil, errutil.UnprocessableEntity(fmt.Sprintf("job template %d has no command template", id), nil)
		}
		refs = append(refs, stepRef{order: 1, name: tmpl.Name, ref: *tmpl.CommandTemplateID})
	}

	ids := make([]int64, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ref)
	}
	referenced, err := p.repo.GetCommandTemplates(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]CommandTemplate, len(referenced))
	for _, ct := range referenced {
		byID[ct.ID] = ct
	}

	jobTypes := map[int64]*JobType{jobType.ID: jobType}
	candidates := map[int64][]CommandTemplate{}

	plan := &Plan{Template: *tmpl, JobType: *jobType}
	for _, r := range refs {
		ref, ok := byID[r.ref]
		if !ok {
			return nil, errutil.UnprocessableEntity(fmt.Sprintf("command template %d not found", r.ref), nil)
		}

		jt, ok := jobTypes[ref.JobTypeID]
		if !ok {
			if jt, err = p.repo.GetJobType(ctx, ref.JobTypeID); err != nil {
				return nil, fmt.Errorf("load job type %d: %w", ref.JobTypeID, err)
			}
			jobTypes[jt.ID] = jt
		}

		stepCandidates := []CommandTemplate{ref}
		if !tmpl.Composite {
			if _, ok := candidates[jt.ID]; !ok {
				list, err := p.repo.ListCommandTemplatesByJobType(ctx, jt.ID)
				if err != nil {
					return nil, err
				}
				candidates[jt.ID] = list
			}
			stepCandidates = candidates[jt.ID]
		}

		plan.Steps = append(plan.Steps, Step{
			Order:             r.order,
			Name:              r.name,
			Reference:         ref,
			JobType:           *jt,
			Candidates:        stepCandidates,
			Overrides:         r.overrides,
			ContinueOnFailure: r.cont,
			TimeoutOverride:   r.timeout,
		})
	}

	return plan, nil
}

// Command selects and renders the variant of step for host. A candidate that
// does not fit the host fails with NoApplicableTemplate. Variables are
// layered runtime > step override > job template default > command template
// default > host built-ins.
func (p *Plan) Command(host *inventory.Host, step Step, runtime map[string]string) (*RenderedCommand, error) {
	tmpl, err := Select(host, &step.JobType, step.Candidates)
	if err != nil {
		return nil, err
	}

	vars := Merge(
		HostVariables(host),
		StringMap(tmpl.DefaultVariables),
		StringMap(p.Template.DefaultVariables),
		step.Overrides,
		runtime,
	)

	cmd, err := Render(tmpl, vars)
	if err != nil {
		return nil, err
	}
	if step.TimeoutOverride > 0 {
		cmd.Timeout = step.TimeoutOverride
	}
	return cmd, nil
}
