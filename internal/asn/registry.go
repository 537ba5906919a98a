// Package asn holds the process-wide table of known hosting-provider ASNs and
// the organization keyword list. Loaded once at run start, read-only after.
package asn

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed data/datacenter_asn.yaml
var defaultData []byte

type dataFile struct {
	ASNs     map[uint32]string `yaml:"datacenter_asns"`
	Keywords []string          `yaml:"datacenter_keywords"`
}

// Registry is an immutable set of hosting-provider ASNs plus the lowercase
// keywords matched against org/ISP strings.
type Registry struct {
	asns     map[uint32]string
	keywords []string
}

// Load reads a registry from a YAML file. An empty path loads the embedded
// default table.
func Load(path string) (*Registry, error) {
	raw := defaultData
	if path != "" {
		var err error
		raw, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read ASN data: %w", err)
		}
	}
	return parse(raw)
}

// Default returns the registry built from the embedded data file.
func Default() *Registry {
	reg, err := parse(defaultData)
	if err != nil {
		// The embedded file is validated by tests; a parse failure here is a
		// build defect, not a runtime condition.
		panic(fmt.Sprintf("embedded ASN data is invalid: %v", err))
	}
	return reg
}

func parse(raw []byte) (*Registry, error) {
	var data dataFile
	if err := yaml.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse ASN data: %w", err)
	}

	reg := &Registry{
		asns:     make(map[uint32]string, len(data.ASNs)),
		keywords: make([]string, 0, len(data.Keywords)),
	}
	for number, label := range data.ASNs {
		reg.asns[number] = label
	}
	for _, kw := range data.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			reg.keywords = append(reg.keywords, kw)
		}
	}
	return reg, nil
}

// Lookup returns the provider label for a blacklisted ASN.
func (r *Registry) Lookup(number uint32) (string, bool) {
	label, ok := r.asns[number]
	return label, ok
}

// Contains reports whether the ASN is blacklisted.
func (r *Registry) Contains(number uint32) bool {
	_, ok := r.asns[number]
	return ok
}

// MatchKeyword returns the first hosting keyword found as a case-insensitive
// substring of text.
func (r *Registry) MatchKeyword(text string) (string, bool) {
	text = strings.ToLower(text)
	for _, kw := range r.keywords {
		if strings.Contains(text, kw) {
			return kw, true
		}
	}
	return "", false
}

// Len returns the number of ASN entries.
func (r *Registry) Len() int { return len(r.asns) }

// KeywordCount returns the number of hosting keywords.
func (r *Registry) KeywordCount() int { return len(r.keywords) }
