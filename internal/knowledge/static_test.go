package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticProviderScoresKeywords(t *testing.T) {
	provider := NewStaticProvider([]Entry{
		{ID: "gas", Title: "Gas", Content: "gas tips", Keywords: []string{"gas"}},
		{ID: "usdc", Title: "USDC", Content: "usdc routes", Keywords: []string{"usdc", "eth"}},
		{ID: "dai", Title: "DAI", Content: "dai routes", Keywords: []string{"dai", "eth"}},
	})

	hits, err := provider.Search(context.Background(), "Swap 100 USDC for ETH", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Source != "usdc" || hits[0].Score != 1 {
		t.Fatalf("unexpected best hit: %+v", hits[0])
	}
	if hits[1].Source != "dai" || hits[1].Score != 0.5 {
		t.Fatalf("unexpected second hit: %+v", hits[1])
	}
	if hits[0].Text != "USDC: usdc routes" {
		t.Fatalf("unexpected text: %q", hits[0].Text)
	}
}

func TestLoadStaticProvider(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "knowledge.json")
	if err := os.WriteFile(path, []byte(`[{"id":"k1","title":"WETH","content":"wrap eth","keywords":["weth"]}]`), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}

	provider, err := LoadStaticProvider(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	hits, err := provider.Search(context.Background(), "convert weth", 3)
	if err != nil || len(hits) != 1 {
		t.Fatalf("expected one hit, got %v %v", hits, err)
	}

	if _, err := LoadStaticProvider(" "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
