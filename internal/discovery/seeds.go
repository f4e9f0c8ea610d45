package discovery

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/polyglot-model-governor/internal/adapters/config/file"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
	"github.com/tjfontaine/polyglot-model-governor/internal/core/ports"
)

//go:embed seeds.yaml
var defaultSeeds []byte

// SeedSet maps each family to its well-known models.
type SeedSet map[domain.Family][]domain.SeedModel

// bytesProvider feeds an in-memory document to koanf.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) {
	return b, nil
}

func (b bytesProvider) Read() (map[string]interface{}, error) {
	return nil, errors.New("bytesProvider does not support Read")
}

// ParseSeeds parses a seeds document.
func ParseSeeds(data []byte) (SeedSet, error) {
	k := koanf.New(".")
	if err := k.Load(bytesProvider(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse seeds: %w", err)
	}

	var raw map[string][]domain.SeedModel
	if err := k.Unmarshal("families", &raw); err != nil {
		return nil, fmt.Errorf("decode seeds: %w", err)
	}

	set := make(SeedSet, len(raw))
	for family, models := range raw {
		f := domain.Family(family)
		if !f.Valid() {
			return nil, fmt.Errorf("seeds: unknown family %q", family)
		}
		seen := make(map[string]bool, len(models))
		for i, m := range models {
			m.ID = strings.TrimSpace(m.ID)
			if m.ID == "" {
				return nil, fmt.Errorf("seeds: %s entry %d has no id", family, i)
			}
			if seen[m.ID] {
				return nil, fmt.Errorf("seeds: %s lists %q twice", family, m.ID)
			}
			seen[m.ID] = true
			set[f] = append(set[f], m)
		}
	}
	return set, nil
}

// LoadSeeds reads and parses a seeds file.
func LoadSeeds(path string) (SeedSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseSeeds(data)
}

// DefaultSeedSet returns the built-in seeds.
func DefaultSeedSet() SeedSet {
	set, err := ParseSeeds(defaultSeeds)
	if err != nil {
		panic(fmt.Sprintf("embedded seeds: %v", err))
	}
	return set
}

// SeedCatalog is a swappable ports.SeedSource.
type SeedCatalog struct {
	current atomic.Pointer[SeedSet]
}

var _ ports.SeedSource = (*SeedCatalog)(nil)

// NewSeedCatalog creates a catalog serving set, or the built-in seeds when
// set is nil.
func NewSeedCatalog(set SeedSet) *SeedCatalog {
	if set == nil {
		set = DefaultSeedSet()
	}
	c := &SeedCatalog{}
	c.Replace(set)
	return c
}

// Replace swaps the served set.
func (c *SeedCatalog) Replace(set SeedSet) {
	c.current.Store(&set)
}

// Seeds returns a copy of the family's seeds.
func (c *SeedCatalog) Seeds(family domain.Family) []domain.SeedModel {
	set := c.current.Load()
	if set == nil {
		return nil
	}
	models := (*set)[family]
	out := make([]domain.SeedModel, len(models))
	copy(out, models)
	return out
}

// WatchSeeds loads path into c and keeps it in sync with the file until ctx
// ends. Closing the returned provider stops the watch early.
func WatchSeeds(ctx context.Context, path string, c *SeedCatalog, logger *slog.Logger) (*file.Provider[SeedSet], error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := file.NewProvider(path, LoadSeeds, file.WithLogger[SeedSet](logger))
	if err != nil {
		return nil, err
	}

	set, err := p.Load(ctx)
	if err != nil {
		return nil, err
	}
	c.Replace(set)

	err = p.Watch(ctx, func(set SeedSet) {
		c.Replace(set)
		logger.Info("seed catalog reloaded", slog.Int("families", len(set)))
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
