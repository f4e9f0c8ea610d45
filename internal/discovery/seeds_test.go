package discovery

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-model-governor/internal/core/domain"
)

func TestDefaultSeedSet(t *testing.T) {
	set := DefaultSeedSet()
	for _, family := range []domain.Family{domain.FamilyKeyBound, domain.FamilyIdentityBound} {
		seeds := set[family]
		if len(seeds) == 0 {
			t.Errorf("no seeds for %s", family)
			continue
		}
		recommended := 0
		for _, s := range seeds {
			if s.Recommended {
				recommended++
			}
		}
		if recommended == 0 {
			t.Errorf("%s has no recommended seed", family)
		}
	}

	var found bool
	for _, s := range set[domain.FamilyIdentityBound] {
		if s.ID == "gemini-2.0-flash" {
			found = true
		}
	}
	if !found {
		t.Error("fail-safe model gemini-2.0-flash is not seeded")
	}
}

func TestParseSeeds(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantErr string
	}{
		{
			name: "valid",
			doc: `
families:
  key-bound:
    - id: m1
      tier: fast
      recommended: true
    - id: m2
`,
		},
		{
			name: "unknown family",
			doc: `
families:
  carrier-pigeon:
    - id: m1
`,
			wantErr: "unknown family",
		},
		{
			name: "missing id",
			doc: `
families:
  key-bound:
    - display_name: nameless
`,
			wantErr: "has no id",
		},
		{
			name: "duplicate id",
			doc: `
families:
  identity-bound:
    - id: m1
    - id: " m1 "
`,
			wantErr: "twice",
		},
		{
			name:    "not yaml",
			doc:     "families: [",
			wantErr: "parse seeds",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := ParseSeeds([]byte(tt.doc))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("ParseSeeds() error = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSeeds() error = %v", err)
			}
			seeds := set[domain.FamilyKeyBound]
			if len(seeds) != 2 || seeds[0].Tier != domain.TierFast || !seeds[0].Recommended {
				t.Errorf("seeds = %+v", seeds)
			}
		})
	}
}

func TestSeedCatalog_SeedsIsACopy(t *testing.T) {
	c := NewSeedCatalog(SeedSet{domain.FamilyKeyBound: {{ID: "m1"}}})

	got := c.Seeds(domain.FamilyKeyBound)
	got[0].ID = "mutated"

	if again := c.Seeds(domain.FamilyKeyBound); again[0].ID != "m1" {
		t.Errorf("Seeds()[0].ID = %q after caller mutation", again[0].ID)
	}
	if got := c.Seeds(domain.FamilyIdentityBound); len(got) != 0 {
		t.Errorf("Seeds(identity-bound) = %v, want empty", got)
	}
}

func TestWatchSeeds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.yaml")
	write := func(id string) {
		t.Helper()
		doc := "families:\n  key-bound:\n    - id: " + id + "\n"
		if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	write("first")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := NewSeedCatalog(nil)
	p, err := WatchSeeds(ctx, path, c, nil)
	if err != nil {
		t.Fatalf("WatchSeeds() error = %v", err)
	}
	defer p.Close()

	if got := c.Seeds(domain.FamilyKeyBound); len(got) != 1 || got[0].ID != "first" {
		t.Fatalf("Seeds() = %+v, want [first]", got)
	}

	write("second")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.Seeds(domain.FamilyKeyBound); len(got) == 1 && got[0].ID == "second" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("seed catalog did not reload")
}

func TestWatchSeeds_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seeds.yaml")
	if err := os.WriteFile(path, []byte("families:\n  nope:\n    - id: x\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	if _, err := WatchSeeds(context.Background(), path, NewSeedCatalog(nil), nil); err == nil {
		t.Fatal("WatchSeeds() accepted an invalid seeds file")
	}
}
