package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"custodychain/config"
	"custodychain/crypto"
)

func TestResolveGenesisPathPrecedence(t *testing.T) {
	env := func(value string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			if key == genesisPathEnv && value != "" {
				return value, true
			}
			return "", false
		}
	}
	cases := []struct {
		name   string
		flag   string
		env    string
		config string
		want   string
	}{
		{name: "flag wins", flag: "/flag.yaml", env: "/env.yaml", config: "/cfg.yaml", want: "/flag.yaml"},
		{name: "env before config", env: " /env.yaml ", config: "/cfg.yaml", want: "/env.yaml"},
		{name: "config fallback", config: "/cfg.yaml", want: "/cfg.yaml"},
		{name: "none", want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := resolveGenesisPath(tc.flag, tc.config, env(tc.env)); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestOpenNodeAppliesGenesisOnce(t *testing.T) {
	dir := t.TempDir()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address()
	genesisPath := filepath.Join(dir, "genesis.yaml")
	doc := fmt.Sprintf("alloc:\n  %s: \"5000\"\n", addr.String())
	if err := os.WriteFile(genesisPath, []byte(doc), 0o600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}

	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.PausedModules = []string{"auction"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	n, err := openNode(context.Background(), cfg, genesisPath, logger)
	if err != nil {
		t.Fatalf("open node: %v", err)
	}
	balance, err := n.proc.Balance(addr.Array())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("expected genesis balance 5000, got %s", balance)
	}
	paused, err := n.proc.PausedModules()
	if err != nil {
		t.Fatalf("paused modules: %v", err)
	}
	if len(paused) != 1 || paused[0] != "auction" {
		t.Fatalf("expected auction paused, got %v", paused)
	}
	n.Close()

	// A changed genesis file must not be re-applied to an existing ledger.
	if err := os.WriteFile(genesisPath, []byte(fmt.Sprintf("alloc:\n  %s: \"1\"\n", addr.String())), 0o600); err != nil {
		t.Fatalf("rewrite genesis: %v", err)
	}
	cfg.PausedModules = nil
	reopened, err := openNode(context.Background(), cfg, genesisPath, logger)
	if err != nil {
		t.Fatalf("reopen node: %v", err)
	}
	defer reopened.Close()
	balance, err = reopened.proc.Balance(addr.Array())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("expected persisted balance 5000, got %s", balance)
	}
	paused, err = reopened.proc.PausedModules()
	if err != nil {
		t.Fatalf("paused modules: %v", err)
	}
	if len(paused) != 1 {
		t.Fatalf("pause flags persist in state, got %v", paused)
	}
}

func TestOpenNodeRejectsBadGenesis(t *testing.T) {
	dir := t.TempDir()
	genesisPath := filepath.Join(dir, "genesis.yaml")
	if err := os.WriteFile(genesisPath, []byte("alloc:\n  nope: \"1\"\n"), 0o600); err != nil {
		t.Fatalf("write genesis: %v", err)
	}
	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	if _, err := openNode(context.Background(), cfg, genesisPath, slog.New(slog.NewTextHandler(io.Discard, nil))); err == nil {
		t.Fatalf("expected invalid genesis to fail")
	}
}
