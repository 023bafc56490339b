// Package linkfix rewrites links to social media sites onto mirror domains
// that render proper previews in Telegram.
package linkfix

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mapping pairs a source domain with the mirror domain that replaces it.
type Mapping struct {
	Original    string `yaml:"original"`
	Replacement string `yaml:"replacement"`
}

type tableFile struct {
	Mappings []Mapping `yaml:"mappings"`
}

// Table is an ordered, validated set of mappings. The zero value matches nothing.
type Table struct {
	mappings []Mapping
}

// DefaultMappings returns the built-in mapping table.
func DefaultMappings() []Mapping {
	return []Mapping{
		{Original: "instagram.com", Replacement: "ddinstagram.com"},
		{Original: "twitter.com", Replacement: "fixupx.com"},
		{Original: "x.com", Replacement: "fixupx.com"},
		{Original: "tiktok.com", Replacement: "vxtiktok.com"},
	}
}

// NewTable validates and normalizes mappings, keeping their order.
func NewTable(mappings []Mapping) (Table, error) {
	if len(mappings) == 0 {
		return Table{}, errors.New("domain mapping table is empty")
	}

	seen := make(map[string]struct{}, len(mappings))
	out := make([]Mapping, 0, len(mappings))

	for i, m := range mappings {
		original, err := cleanDomain(m.Original)
		if err != nil {
			return Table{}, fmt.Errorf("mapping %d original: %w", i, err)
		}
		replacement, err := cleanDomain(m.Replacement)
		if err != nil {
			return Table{}, fmt.Errorf("mapping %d replacement: %w", i, err)
		}
		if original == replacement {
			return Table{}, fmt.Errorf("mapping %d maps %q onto itself", i, original)
		}
		if _, dup := seen[original]; dup {
			return Table{}, fmt.Errorf("mapping %d duplicates original %q", i, original)
		}
		seen[original] = struct{}{}

		out = append(out, Mapping{Original: original, Replacement: replacement})
	}

	return Table{mappings: out}, nil
}

// DefaultTable returns the built-in table.
func DefaultTable() Table {
	table, err := NewTable(DefaultMappings())
	if err != nil {
		panic(err)
	}
	return table
}

// LoadTable reads a YAML mapping file. An empty path yields DefaultTable.
func LoadTable(path string) (Table, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultTable(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read domain map: %w", err)
	}

	return ParseTable(raw)
}

// ParseTable decodes a YAML document of the form
//
//	mappings:
//	  - original: tiktok.com
//	    replacement: vxtiktok.com
func ParseTable(raw []byte) (Table, error) {
	var file tableFile

	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return Table{}, fmt.Errorf("decode domain map: %w", err)
	}

	return NewTable(file.Mappings)
}

// Mappings returns a copy of the table entries in order.
func (t Table) Mappings() []Mapping {
	return append([]Mapping(nil), t.mappings...)
}

// Len returns the number of mappings.
func (t Table) Len() int {
	return len(t.mappings)
}

// rewriteHost applies the first matching mapping to a lower-cased hostname.
// Hosts already on a replacement domain are left alone so rewriting is idempotent.
func (t Table) rewriteHost(host string) (string, bool) {
	for _, m := range t.mappings {
		if onDomain(host, m.Replacement) {
			return host, false
		}
	}

	for _, m := range t.mappings {
		switch {
		case host == m.Original:
			return m.Replacement, true
		case strings.HasSuffix(host, "."+m.Original):
			return strings.TrimSuffix(host, m.Original) + m.Replacement, true
		}
	}

	return host, false
}

// onDomain reports whether host is domain or one of its subdomains.
func onDomain(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func cleanDomain(value string) (string, error) {
	domain := strings.Trim(strings.ToLower(strings.TrimSpace(value)), ".")
	if domain == "" {
		return "", errors.New("domain is required")
	}
	if strings.ContainsAny(domain, "/:@?# \t") {
		return "", fmt.Errorf("%q is not a bare domain", value)
	}
	if strings.Contains(domain, "..") {
		return "", fmt.Errorf("%q has an empty label", value)
	}
	return domain, nil
}
