package inventory

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"fleetops-controlplane/pkg/errutil"
)

type TargetKind string

const (
	TargetExplicit     TargetKind = "explicit"
	TargetTags         TargetKind = "tags"
	TargetCapabilities TargetKind = "capabilities"
	TargetAll          TargetKind = "all"
)

// TargetSpec is the rule used to resolve hosts for a run. It is stored as a
// JSON column on schedules and job templates.
type TargetSpec struct {
	Kind         TargetKind `json:"kind"`
	HostIDs      []int64    `json:"host_ids,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	Capabilities []string   `json:"capabilities,omitempty"`
}

func (s TargetSpec) Validate() error {
	switch s.Kind {
	case TargetExplicit:
		if len(s.HostIDs) == 0 {
			return errutil.BadRequest("explicit target requires host_ids", nil)
		}
	case TargetTags:
		if len(s.Tags) == 0 {
			return errutil.BadRequest("tag target requires tags", nil)
		}
	case TargetCapabilities:
		if len(s.Capabilities) == 0 {
			return errutil.BadRequest("capability target requires capabilities", nil)
		}
	case TargetAll:
	default:
		return errutil.BadRequest(fmt.Sprintf("unknown target kind %q", s.Kind), nil)
	}
	return nil
}

func (s TargetSpec) Value() (driver.Value, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (s *TargetSpec) Scan(value any) error {
	var b []byte
	switch v := value.(type) {
	case nil:
		*s = TargetSpec{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported target spec column type %T", value)
	}
	return json.Unmarshal(b, s)
}

func (TargetSpec) GormDataType() string {
	return "json"
}
