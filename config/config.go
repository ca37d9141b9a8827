// Package config is the external-interface layer of §6: a YAML-loaded
// Config plus the Database capability it parameterizes — open_connection,
// exists/create, check(tables, views, force), identifier-casing
// translation and the per-dialect connection factory.
package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/entitymapper/entitymapper/dialect"
	"github.com/entitymapper/entitymapper/orm"
	"gopkg.in/yaml.v3"
)

// Config is the application-supplied configuration of §6.
type Config struct {
	DatabaseName     string
	ConnectionString string
	Dialect          dialect.Kind
	ConflictMode     orm.ConflictMode
	AllowDropColumns bool
	BaseTableTypes   []string
	BaseViewTypes    []string

	// LogLevel is ambient (not named in spec.md §6) and governs the zap
	// logger constructed for the connection/schema engine.
	LogLevel string
}

// yamlConfig is the on-disk shape, decoded with strict unknown-field
// rejection the way the teacher's database.ParseGeneratorConfig does with
// dec.KnownFields(true).
type yamlConfig struct {
	DatabaseName     string   `yaml:"database_name"`
	ConnectionString string   `yaml:"connection_string"`
	Dialect          string   `yaml:"dialect"`
	ConflictMode     string   `yaml:"conflict_mode"`
	AllowDropColumns bool     `yaml:"allow_drop_columns"`
	BaseTableTypes   []string `yaml:"base_table_types"`
	BaseViewTypes    []string `yaml:"base_view_types"`
	LogLevel         string   `yaml:"log_level"`
}

// Load reads and decodes a Config from the YAML file at path.
func Load(path string) (Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config.Load: %w", err)
	}
	return Parse(buf)
}

// Parse decodes a Config from YAML bytes already in memory.
func Parse(buf []byte) (Config, error) {
	var y yamlConfig
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&y); err != nil {
		return Config{}, fmt.Errorf("config.Parse: %w", err)
	}

	kind, err := parseDialect(y.Dialect)
	if err != nil {
		return Config{}, err
	}
	mode, err := parseConflictMode(y.ConflictMode)
	if err != nil {
		return Config{}, err
	}

	return Config{
		DatabaseName:     y.DatabaseName,
		ConnectionString: y.ConnectionString,
		Dialect:          kind,
		ConflictMode:     mode,
		AllowDropColumns: y.AllowDropColumns,
		BaseTableTypes:   y.BaseTableTypes,
		BaseViewTypes:    y.BaseViewTypes,
		LogLevel:         y.LogLevel,
	}, nil
}

func parseDialect(s string) (dialect.Kind, error) {
	switch s {
	case "", "MsSql":
		return dialect.MsSql, nil
	case "AzureSql":
		return dialect.AzureSql, nil
	case "PostgreSql":
		return dialect.PostgreSql, nil
	case "FirebirdServer":
		return dialect.FirebirdServer, nil
	case "FirebirdEmbedded":
		return dialect.FirebirdEmbedded, nil
	default:
		return 0, fmt.Errorf("config: unknown dialect %q", s)
	}
}

func parseConflictMode(s string) (orm.ConflictMode, error) {
	switch s {
	case "", "LastWins":
		return orm.LastWins, nil
	case "FirstWins":
		return orm.FirstWins, nil
	default:
		return 0, fmt.Errorf("config: unknown conflict_mode %q", s)
	}
}
