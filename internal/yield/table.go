package yield

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed strategies.yaml
var defaultTableYAML []byte

var (
	ErrEmptyTable   = errors.New("strategy table has no strategies")
	ErrInvalidBoost = errors.New("boost must be positive")
	ErrNegativeRate = errors.New("apy and weight must be non-negative")
)

type Strategy struct {
	ID     string  `yaml:"id"`
	APY    float64 `yaml:"apy"`
	Weight float64 `yaml:"weight"`
}

type Table struct {
	Boost      float64    `yaml:"boost"`
	Strategies []Strategy `yaml:"strategies"`
}

// DefaultTable returns the built-in twelve-strategy table.
func DefaultTable() Table {
	t, err := ParseTable(defaultTableYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded strategy table: %v", err))
	}
	return t
}

// LoadTable reads a YAML strategy table from path. An empty path yields the default table.
func LoadTable(path string) (Table, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read strategies: %w", err)
	}
	t, err := ParseTable(data)
	if err != nil {
		return Table{}, fmt.Errorf("parse strategies %s: %w", path, err)
	}
	return t, nil
}

func ParseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, err
	}
	if err := t.validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

// weights are deliberately not required to sum to 1
func (t Table) validate() error {
	if len(t.Strategies) == 0 {
		return ErrEmptyTable
	}
	if !(t.Boost > 0) || math.IsInf(t.Boost, 1) {
		return ErrInvalidBoost
	}
	seen := make(map[string]struct{}, len(t.Strategies))
	for i, s := range t.Strategies {
		if s.ID == "" {
			return fmt.Errorf("strategy #%d: empty id", i)
		}
		if !nonNegative(s.APY) || !nonNegative(s.Weight) {
			return fmt.Errorf("strategy %q: %w", s.ID, ErrNegativeRate)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("strategy %q: duplicate id", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func nonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 1)
}
