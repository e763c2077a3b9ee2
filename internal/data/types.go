package data

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nodeforge/runtime/internal/core/ident"
	"github.com/nodeforge/runtime/internal/core/typereg"
)

var ErrTypeCycle = errors.New("type manifest bases form a cycle or reference unknown types")

// TypeEntry declares one type and its direct bases.
type TypeEntry struct {
	Name  string   `yaml:"name"`
	Bases []string `yaml:"bases"`
	Note  string   `yaml:"note"`
}

// TypeManifest is the list of game types loaded from types.yaml.
type TypeManifest struct {
	entries []TypeEntry
}

// LoadTypeManifest loads types.yaml.
func LoadTypeManifest(path string) (*TypeManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read type manifest: %w", err)
	}
	return ParseTypeManifest(raw)
}

func ParseTypeManifest(raw []byte) (*TypeManifest, error) {
	var entries []TypeEntry
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse type manifest: %w", err)
	}
	for i, e := range entries {
		if e.Name == "" {
			return nil, fmt.Errorf("parse type manifest: entry %d: %w", i, typereg.ErrEmptyName)
		}
	}
	return &TypeManifest{entries: entries}, nil
}

// Count returns the number of declared types.
func (m *TypeManifest) Count() int { return len(m.entries) }

// Register declares every type in reg. Entries may name bases declared
// later in the file; they are registered once their bases exist.
func (m *TypeManifest) Register(reg *typereg.Registry) (map[string]ident.TypeID, error) {
	ids := make(map[string]ident.TypeID, len(m.entries))
	pending := make([]TypeEntry, len(m.entries))
	copy(pending, m.entries)

	for len(pending) > 0 {
		next := pending[:0]
		for _, e := range pending {
			if !basesKnown(reg, e.Bases) {
				next = append(next, e)
				continue
			}
			id, err := reg.Register(e.Name, e.Bases...)
			if err != nil {
				return nil, fmt.Errorf("register types: %w", err)
			}
			ids[e.Name] = id
		}
		if len(next) == len(pending) {
			names := make([]string, len(next))
			for i, e := range next {
				names[i] = e.Name
			}
			return nil, fmt.Errorf("register types %v: %w", names, ErrTypeCycle)
		}
		pending = next
	}
	return ids, nil
}

func basesKnown(reg *typereg.Registry, bases []string) bool {
	for _, b := range bases {
		if _, ok := reg.FindByName(b); !ok {
			return false
		}
	}
	return true
}
