package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// publicDomainsFile is the YAML shape of IMPORT_PUBLIC_DOMAINS_FILE:
//
//	domains:
//	  - gmail.com
//	  - outlook.com
type publicDomainsFile struct {
	Domains []string `yaml:"domains"`
}

// LoadPublicDomains reads the public email domain list at path. An empty
// path returns nil, which selects the built-in list.
func LoadPublicDomains(path string) ([]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public domains: %w", err)
	}

	var f publicDomainsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse public domains %s: %w", path, err)
	}

	out := make([]string, 0, len(f.Domains))
	for _, d := range f.Domains {
		if d = strings.TrimSpace(d); d != "" {
			out = append(out, d)
		}
	}
	return out, nil
}
