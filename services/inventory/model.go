package inventory

import (
	"strings"
	"time"

	"fleetops-controlplane/pkg/remote"

	"gorm.io/datatypes"
)

type HostStatus string

const (
	HostStatusUnknown     HostStatus = "unknown"
	HostStatusReachable   HostStatus = "reachable"
	HostStatusUnreachable HostStatus = "unreachable"
)

// Host is a managed machine. Capabilities are written by the external
// detection process and only read here.
type Host struct {
	ID             int64                       `gorm:"column:id;primaryKey;autoIncrement:false" json:"id,string"`
	Name           string                      `gorm:"column:name;type:varchar(255);uniqueIndex;not null" json:"name"`
	Address        string                      `gorm:"column:address;type:varchar(255);not null" json:"address"`
	Port           int                         `gorm:"column:port" json:"port"`
	OSFamily       string                      `gorm:"column:os_family;type:varchar(50)" json:"os_family"`
	PackageManager string                      `gorm:"column:package_manager;type:varchar(50)" json:"package_manager"`
	Capabilities   datatypes.JSONSlice[string] `gorm:"column:capabilities" json:"capabilities"`
	Tags           datatypes.JSONSlice[string] `gorm:"column:tags" json:"tags"`
	CredentialID   *int64                      `gorm:"column:credential_id" json:"credential_id,string,omitempty"`
	Status         HostStatus                  `gorm:"column:status;type:varchar(20);not null" json:"status"`
	Enabled        bool                        `gorm:"column:enabled;not null" json:"enabled"`
	LastSeenAt     *time.Time                  `gorm:"column:last_seen_at" json:"last_seen_at,omitempty"`
	CreatedAt      time.Time                   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Host) TableName() string { return "hosts" }

// HasAll reports whether set contains every element of required. Comparison
// is case-insensitive.
func HasAll(set []string, required []string) bool {
	have := make(map[string]struct{}, len(set))
	for _, s := range set {
		have[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[strings.ToLower(strings.TrimSpace(r))]; !ok {
			return false
		}
	}
	return true
}

func (h *Host) HasTags(tags []string) bool {
	return HasAll(h.Tags, tags)
}

func (h *Host) HasCapabilities(caps []string) bool {
	return HasAll(h.Capabilities, caps)
}

func (h *Host) Target() remote.Target {
	return remote.Target{ID: h.ID, Name: h.Name, Address: h.Address, Port: h.Port}
}

// Credential is read-only login material; SecretRef points at the secret.
type Credential struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement:false"`
	Name      string    `gorm:"column:name;type:varchar(255)"`
	Kind      string    `gorm:"column:kind;type:varchar(30);not null"`
	Username  string    `gorm:"column:username;type:varchar(255)"`
	SecretRef string    `gorm:"column:secret_ref;type:text"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (Credential) TableName() string { return "credentials" }

func (c *Credential) Remote() *remote.Credential {
	if c == nil {
		return nil
	}
	return &remote.Credential{ID: c.ID, Kind: c.Kind, Username: c.Username, SecretRef: c.SecretRef}
}

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&Host{}, &Credential{}}
}
