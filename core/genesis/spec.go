package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"custodychain/crypto"
	nativecommon "custodychain/native/common"
)

// Spec is the genesis file of a custody ledger: the starting balances, the
// modules that boot paused and the earliest timestamp the ledger may report.
//
//	genesisTime: 2024-01-01T00:00:00Z
//	pausedModules: [auction]
//	alloc:
//	  cust1...: "1000000000000000000000"
type Spec struct {
	GenesisTime   string            `yaml:"genesisTime"`
	PausedModules []string          `yaml:"pausedModules"`
	Alloc         map[string]string `yaml:"alloc"`

	genesisTimestamp time.Time
	allocations      []Allocation
}

// Allocation is a parsed balance entry.
type Allocation struct {
	Address [20]byte
	Balance *big.Int
}

// Load reads and validates a genesis file.
func Load(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// Empty returns a spec with no allocations. Dev nodes without a genesis file
// start from it.
func Empty() *Spec { return &Spec{} }

// Parse decodes a YAML genesis document. Unknown fields are rejected.
func Parse(raw []byte) (*Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

// GenesisTimestamp returns the parsed genesis time. The zero value means the
// ledger starts at whatever its clock reports.
func (s *Spec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// Allocations returns the balance entries ordered by address so applying them
// always produces the same state root.
func (s *Spec) Allocations() []Allocation {
	out := make([]Allocation, len(s.allocations))
	for i, alloc := range s.allocations {
		out[i] = Allocation{Address: alloc.Address, Balance: new(big.Int).Set(alloc.Balance)}
	}
	return out
}

func (s *Spec) validate() error {
	s.genesisTimestamp = time.Time{}
	if strings.TrimSpace(s.GenesisTime) != "" {
		ts, err := parseGenesisTime(s.GenesisTime)
		if err != nil {
			return err
		}
		s.genesisTimestamp = ts
	}

	for i, module := range s.PausedModules {
		if !nativecommon.KnownModule(module) {
			return fmt.Errorf("pausedModules[%d]: unknown module %q", i, module)
		}
	}

	s.allocations = s.allocations[:0]
	seen := make(map[[20]byte]struct{}, len(s.Alloc))
	for addrStr, balanceStr := range s.Alloc {
		addr, err := crypto.ParseAddress(addrStr)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", addrStr, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("alloc %q: duplicate address", addrStr)
		}
		seen[addr] = struct{}{}
		balance, err := parseAmountString(balanceStr)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", addrStr, err)
		}
		s.allocations = append(s.allocations, Allocation{Address: addr, Balance: balance})
	}
	sort.Slice(s.allocations, func(i, j int) bool {
		return bytes.Compare(s.allocations[i].Address[:], s.allocations[j].Address[:]) < 0
	})
	return nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return nil, fmt.Errorf("amount %q exceeds 256 bits", value)
	}
	return amount, nil
}

func parseGenesisTime(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
