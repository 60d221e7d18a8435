// Package permission decides which platform permissions capture needs and drives
// the progressive acquisition flow that requests them.
package permission

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Permission is a platform capability identifier.
type Permission string

const (
	CoarseLocation    Permission = "android.permission.ACCESS_COARSE_LOCATION"
	FineLocation      Permission = "android.permission.ACCESS_FINE_LOCATION"
	BluetoothScan     Permission = "android.permission.BLUETOOTH_SCAN"
	PostNotifications Permission = "android.permission.POST_NOTIFICATIONS"
)

// Requirement is one catalog row.
type Requirement struct {
	Permission             Permission `toml:"permission"`
	MinimumPlatformVersion int        `toml:"min_platform_version"`
	// Essential requirements form the minimum set that unlocks capture.
	Essential bool `toml:"essential"`
	// Page groups requirements that share one rationale page. Empty means a page of its own.
	Page string `toml:"page"`
}

// AppliesTo reports whether the requirement is in force on the platform version.
func (r Requirement) AppliesTo(version int) bool {
	return r.MinimumPlatformVersion == 0 || version >= r.MinimumPlatformVersion
}

// ErrInvalidCatalog is returned when a catalog table fails validation.
var ErrInvalidCatalog = errors.New("invalid permission catalog")

// Catalog is the ordered, version-aware requirement table.
type Catalog struct {
	requirements []Requirement
}

//go:embed catalog.toml
var defaultCatalogTOML string

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	defaultOnce.Do(func() {
		c, err := ParseCatalog(defaultCatalogTOML)
		if err != nil {
			panic(fmt.Sprintf("built-in permission catalog: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// LoadCatalog reads a catalog override from a TOML file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read permission catalog: %w", err)
	}
	return ParseCatalog(string(data))
}

// ParseCatalog decodes and validates a TOML catalog document.
func ParseCatalog(doc string) (*Catalog, error) {
	var file struct {
		Requirement []Requirement `toml:"requirement"`
	}
	if _, err := toml.Decode(doc, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}
	return NewCatalog(file.Requirement...)
}

// NewCatalog builds a catalog from requirements in order.
func NewCatalog(reqs ...Requirement) (*Catalog, error) {
	seen := make(map[Permission]struct{}, len(reqs))
	for i, r := range reqs {
		if strings.TrimSpace(string(r.Permission)) == "" {
			return nil, fmt.Errorf("%w: requirement %d has no permission", ErrInvalidCatalog, i)
		}
		if r.MinimumPlatformVersion < 0 {
			return nil, fmt.Errorf("%w: %s has negative minimum version", ErrInvalidCatalog, r.Permission)
		}
		if _, dup := seen[r.Permission]; dup {
			return nil, fmt.Errorf("%w: %s listed twice", ErrInvalidCatalog, r.Permission)
		}
		seen[r.Permission] = struct{}{}
	}
	return &Catalog{requirements: append([]Requirement(nil), reqs...)}, nil
}

// All returns the full table in catalog order.
func (c *Catalog) All() []Requirement {
	return append([]Requirement(nil), c.requirements...)
}

// PageOf returns the rationale page key of p, empty when p is ungrouped or unknown.
func (c *Catalog) PageOf(p Permission) string {
	for _, r := range c.requirements {
		if r.Permission == p {
			return r.Page
		}
	}
	return ""
}

// Pages groups perms into rationale pages. A page takes the position of its first
// member, and members keep their order in perms.
func (c *Catalog) Pages(perms []Permission) [][]Permission {
	var pages [][]Permission
	index := make(map[string]int)
	for _, p := range perms {
		key := c.PageOf(p)
		if key != "" {
			if i, ok := index[key]; ok {
				pages[i] = append(pages[i], p)
				continue
			}
			index[key] = len(pages)
		}
		pages = append(pages, []Permission{p})
	}
	return pages
}

// RequirementsFor returns the requirements in force on version, in catalog order.
func (c *Catalog) RequirementsFor(version int) []Requirement {
	out := make([]Requirement, 0, len(c.requirements))
	for _, r := range c.requirements {
		if r.AppliesTo(version) {
			out = append(out, r)
		}
	}
	return out
}
