package main

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/resolver/internal/core"
)

// mappingFile is a saved column mapping with import options.
//
//	entity: company
//	columns:
//	  name: Company
//	  domain: Website
//	options:
//	  duplicateStrategy: update
//	  corrections:
//	    Company:
//	      Acme Inc: Acme
type mappingFile struct {
	Entity  core.EntityKind `yaml:"entity"`
	Columns core.ColumnMap  `yaml:"columns"`
	Options mappingOptions  `yaml:"options,omitempty"`
}

type mappingOptions struct {
	DuplicateStrategy    core.DuplicateStrategy     `yaml:"duplicateStrategy,omitempty"`
	MatchField           string                     `yaml:"matchField,omitempty"`
	DateFormats          map[string]core.DateFormat `yaml:"dateFormats,omitempty"`
	Corrections          core.Corrections           `yaml:"corrections,omitempty"`
	ResolveRelationships bool                       `yaml:"resolveRelationships,omitempty"`
}

func (o mappingOptions) importOptions() core.ImportOptions {
	return core.ImportOptions{
		DuplicateStrategy:    o.DuplicateStrategy,
		MatchField:           o.MatchField,
		DateFormats:          o.DateFormats,
		Corrections:          o.Corrections,
		ResolveRelationships: o.ResolveRelationships,
	}
}

func readMapping(path string) (*mappingFile, error) {
	var m mappingFile
	if err := readYAML(path, &m); err != nil {
		return nil, err
	}
	if m.Entity == "" {
		return nil, fmt.Errorf("mapping %s: entity is required", path)
	}
	if len(m.Columns) == 0 {
		return nil, fmt.Errorf("mapping %s: columns are required", path)
	}
	if _, err := core.Lookup(m.Entity); err != nil {
		return nil, fmt.Errorf("mapping %s: %w", path, err)
	}
	return &m, nil
}

func writeMapping(w io.Writer, m *mappingFile) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(m); err != nil {
		return err
	}
	return enc.Close()
}

// seedFile lists existing records of one entity kind for a tenant.
//
//	entity: company
//	tenant: t1
//	records:
//	  - id: 01HZX000000000000000000001
//	    name: Acme
//	    domains: [acme.com]
type seedFile struct {
	Entity  core.EntityKind `yaml:"entity"`
	Tenant  string          `yaml:"tenant"`
	Records []seedRecord    `yaml:"records"`
}

type seedRecord struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Emails     []string          `yaml:"emails,omitempty"`
	Domains    []string          `yaml:"domains,omitempty"`
	Attributes map[string]string `yaml:"attributes,omitempty"`
}

func readSeed(path string) (*seedFile, error) {
	var s seedFile
	if err := readYAML(path, &s); err != nil {
		return nil, err
	}
	if s.Entity == "" || s.Tenant == "" {
		return nil, fmt.Errorf("seed %s: entity and tenant are required", path)
	}
	for i, r := range s.Records {
		if !core.IsValidID(r.ID) {
			return nil, fmt.Errorf("seed %s: record %d: invalid id %q", path, i+1, r.ID)
		}
	}
	return &s, nil
}

func readYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}
