package config

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/V4T54L/schoolpulse/internal/domain"
)

// TenantsFile is the on-disk layout of the tenant set.
type TenantsFile struct {
	SharedStore bool                  `yaml:"shared_store"`
	Shared      StoreFile             `yaml:"shared"`
	Tenants     map[string]TenantFile `yaml:"tenants"`
	Aliases     map[int64]string      `yaml:"aliases,omitempty"`
}

// TenantFile is one tenant entry. Connection fields are ignored in shared-store mode.
type TenantFile struct {
	ID        int64 `yaml:"id"`
	StoreFile `yaml:",inline"`
}

// StoreFile holds connection parameters of one backing store.
type StoreFile struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// envRef matches ${VAR}. A bare $ is kept literally.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} references in one decoded value. Substituted
// text is never rescanned.
func expandEnv(value string) string {
	return envRef.ReplaceAllStringFunc(value, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

func (s StoreFile) params() domain.ConnParams {
	return domain.ConnParams{
		Host:            expandEnv(s.Host),
		Port:            s.Port,
		Database:        expandEnv(s.Database),
		User:            expandEnv(s.User),
		Password:        expandEnv(s.Password),
		SSLMode:         expandEnv(s.SSLMode),
		MaxOpenConns:    s.MaxOpenConns,
		MaxIdleConns:    s.MaxIdleConns,
		ConnMaxLifetime: s.ConnMaxLifetime,
		ConnMaxIdleTime: s.ConnMaxIdleTime,
	}
}

// LoadTenants reads a tenants file. ${VAR} references in connection fields
// are expanded from the environment after decoding.
func LoadTenants(path string) (domain.TenantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.TenantConfig{}, fmt.Errorf("failed to read tenants file %s: %w", path, err)
	}
	return ParseTenants(data)
}

// ParseTenants decodes and validates a tenants document.
func ParseTenants(data []byte) (domain.TenantConfig, error) {
	var file TenantsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return domain.TenantConfig{}, fmt.Errorf("failed to parse tenants file: %w", err)
	}
	return file.toDomain()
}

func (f TenantsFile) toDomain() (domain.TenantConfig, error) {
	if len(f.Tenants) == 0 {
		return domain.TenantConfig{}, fmt.Errorf("tenants file: no tenants defined")
	}
	if f.SharedStore && f.Shared.params().Host == "" {
		return domain.TenantConfig{}, fmt.Errorf("tenants file: shared_store requires shared.host")
	}

	names := make([]string, 0, len(f.Tenants))
	for name := range f.Tenants {
		names = append(names, name)
	}
	sort.Strings(names)

	cfg := domain.TenantConfig{
		SharedStore: f.SharedStore,
		Shared:      f.Shared.params(),
		Aliases:     f.Aliases,
	}
	ids := make(map[int64]string, len(names))
	for _, name := range names {
		t := f.Tenants[name]
		params := t.params()
		if !f.SharedStore && params.Host == "" {
			return domain.TenantConfig{}, fmt.Errorf("tenants file: tenant %q has no host", name)
		}
		if t.ID != 0 {
			if other, dup := ids[t.ID]; dup {
				return domain.TenantConfig{}, fmt.Errorf("tenants file: id %d used by %q and %q", t.ID, other, name)
			}
			ids[t.ID] = name
		}
		cfg.Tenants = append(cfg.Tenants, domain.Tenant{Name: name, ID: t.ID, Params: params})
	}

	for id, name := range f.Aliases {
		if _, ok := f.Tenants[name]; !ok {
			return domain.TenantConfig{}, fmt.Errorf("tenants file: alias %d points to unknown tenant %q", id, name)
		}
		if other, dup := ids[id]; dup && other != name {
			return domain.TenantConfig{}, fmt.Errorf("tenants file: alias %d conflicts with tenant %q", id, other)
		}
	}
	return cfg, nil
}
