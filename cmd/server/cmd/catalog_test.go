package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCatalogCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(`
events:
  - id: interusp-2024
    name: InterUSP 2024
    date: 2024-11-15
    order_book:
      last_price: 300
      bids: [{price: 298.50, quantity: 15}]
      asks: [{price: 301, quantity: 10}]
`), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"catalog", "check", path})
	if err := Execute(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := out.String()
	for _, want := range []string{"interusp-2024", "bid=298.50", "ask=301.00", "1 events OK"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestCatalogCheck_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("events:\n  - id: Not A Slug\n    name: x\n    date: 2024-01-01\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"catalog", "check", path})
	if err := Execute(); err == nil {
		t.Error("expected validation error")
	}
}

func TestCatalogCheck_RepositorySample(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"catalog", "check", filepath.Join("..", "..", "..", "catalog.yaml")})
	if err := Execute(); err != nil {
		t.Fatalf("sample catalog should be valid: %v", err)
	}
	if !strings.Contains(out.String(), "3 events OK") {
		t.Errorf("unexpected output:\n%s", out.String())
	}
}
