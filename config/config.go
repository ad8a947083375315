package config

import (
	"fmt"
	"os"
	"time"

	"github.com/melkeydev/dbplus/permissions"
	"github.com/melkeydev/dbplus/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Database    DatabaseConfig               `yaml:"database"`
	SchemaKeys  map[string][]types.SchemaKey `yaml:"schema_keys,omitempty"`
	AuditTrail  AuditTrailConfig             `yaml:"audit_trail"`
	Permissions PolicyConfig                 `yaml:"permissions"`
}

type DatabaseConfig struct {
	DBType           string          `yaml:"type"`
	ConnectionString string          `yaml:"connection_string,omitempty"`
	File             string          `yaml:"file,omitempty"`
	Host             string          `yaml:"host,omitempty"`
	Port             int             `yaml:"port,omitempty"`
	User             string          `yaml:"user,omitempty"`
	Password         string          `yaml:"password,omitempty"`
	Name             string          `yaml:"name"`
	PoolSize         int             `yaml:"pool_size,omitempty"`
	KeepAlive        KeepAliveConfig `yaml:"keep_alive,omitempty"`
	FailOnMissingDB  bool            `yaml:"fail_on_missing_db,omitempty"`
}

type KeepAliveConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout,omitempty"`
	MaxLifetime time.Duration `yaml:"max_lifetime,omitempty"`
}

type AuditTrailConfig struct {
	// Enabled defaults to true when omitted.
	Enabled    *bool    `yaml:"enabled,omitempty"`
	SkipTables []string `yaml:"skip_tables,omitempty"`
}

func (a AuditTrailConfig) IsEnabled() bool {
	return a.Enabled == nil || *a.Enabled
}

type PolicyConfig struct {
	Default    []string                     `yaml:"default"`
	Tables     map[string]TablePolicyConfig `yaml:"tables,omitempty"`
	Qualifiers map[string]any               `yaml:"qualifiers,omitempty"`
}

type TablePolicyConfig struct {
	Operations      []string `yaml:"operations"`
	ProtectedFields []string `yaml:"protected_fields,omitempty"`
}

func LoadConfig(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Database.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (d *DatabaseConfig) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("database name is required")
	}

	switch d.DBType {
	case "postgres", "mysql":
		if d.ConnectionString == "" && d.Host == "" {
			return fmt.Errorf("connection string or host is required for %s connection", d.DBType)
		}
		return nil

	case "sqlite":
		if d.File == "" {
			d.File = "database.db"
		}
		return nil

	default:
		return fmt.Errorf("unsupported Database type: %s", d.DBType)
	}
}

// Policy builds the permission policy described by the config.
func (p PolicyConfig) Policy() (permissions.Policy, error) {
	def, err := permissions.ParseSet(p.Default...)
	if err != nil {
		return permissions.Policy{}, fmt.Errorf("default permissions: %w", err)
	}

	policy := permissions.Policy{
		Default:    def,
		Qualifiers: p.Qualifiers,
	}

	if len(p.Tables) > 0 {
		policy.Tables = make(map[string]permissions.TablePolicy, len(p.Tables))
		for table, tp := range p.Tables {
			ops, err := permissions.ParseSet(tp.Operations...)
			if err != nil {
				return permissions.Policy{}, fmt.Errorf("permissions for %s: %w", table, err)
			}
			policy.Tables[table] = permissions.TablePolicy{
				Operations:      ops,
				ProtectedFields: tp.ProtectedFields,
			}
		}
	}

	return policy, nil
}
