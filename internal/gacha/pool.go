// Package gacha implements the reward roll engine: the weighted reward pool,
// the selector, effect-to-command translation, and the roll orchestrator.
package gacha

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Rarity is the display tier of a reward. Ordering implies presentation
// only; probability comes solely from Weight.
type Rarity string

// Recognised rarities.
const (
	RarityCommon    Rarity = "common"
	RarityRare      Rarity = "rare"
	RarityEpic      Rarity = "epic"
	RarityLegendary Rarity = "legendary"
)

// Valid reports whether r is a recognised rarity.
func (r Rarity) Valid() bool {
	switch r {
	case RarityCommon, RarityRare, RarityEpic, RarityLegendary:
		return true
	}
	return false
}

// EffectType identifies what an awarded reward grants in the game.
type EffectType string

// Recognised effect types.
const (
	EffectCurrency   EffectType = "currency"
	EffectItem       EffectType = "item"
	EffectRank       EffectType = "rank"
	EffectExperience EffectType = "experience"
)

// Valid reports whether e is a recognised effect type.
func (e EffectType) Valid() bool {
	switch e {
	case EffectCurrency, EffectItem, EffectRank, EffectExperience:
		return true
	}
	return false
}

// RewardDefinition is a single rollable reward. Definitions are loaded at
// startup and never mutated afterwards.
type RewardDefinition struct {
	ID          string
	Name        string
	Rarity      Rarity
	EffectType  EffectType
	EffectValue string
	Weight      float64
}

// WeightSum is the required total weight of an active pool. Weights carry
// percentage semantics: a reward with Weight 2.5 wins 2.5% of rolls.
const WeightSum = 100.0

// weightEpsilon bounds the tolerated floating-point error in the weight sum.
const weightEpsilon = 1e-6

// Pool is a validated, immutable set of rollable rewards in declaration order.
//
// Invariant: weights are non-negative and sum to WeightSum within
// weightEpsilon; ids are unique and non-empty.
type Pool struct {
	rewards []RewardDefinition
	byID    map[string]RewardDefinition
}

// NewPool validates rewards and builds a Pool.
//
// Postcondition: Returns a Pool holding rewards in the given order, or an
// error naming the first violated invariant. Weights are never renormalized.
func NewPool(rewards []RewardDefinition) (*Pool, error) {
	if len(rewards) == 0 {
		return nil, fmt.Errorf("reward pool must not be empty")
	}

	byID := make(map[string]RewardDefinition, len(rewards))
	sum := 0.0
	for i, r := range rewards {
		if r.ID == "" {
			return nil, fmt.Errorf("reward %d: id must not be empty", i)
		}
		if _, dup := byID[r.ID]; dup {
			return nil, fmt.Errorf("reward %q: duplicate id", r.ID)
		}
		if r.Name == "" {
			return nil, fmt.Errorf("reward %q: name must not be empty", r.ID)
		}
		if !r.Rarity.Valid() {
			return nil, fmt.Errorf("reward %q: unknown rarity %q", r.ID, r.Rarity)
		}
		if !r.EffectType.Valid() {
			return nil, fmt.Errorf("reward %q: unknown effect type %q", r.ID, r.EffectType)
		}
		if r.EffectValue == "" {
			return nil, fmt.Errorf("reward %q: effect value must not be empty", r.ID)
		}
		if r.Weight < 0 || math.IsNaN(r.Weight) || math.IsInf(r.Weight, 0) {
			return nil, fmt.Errorf("reward %q: weight must be a non-negative finite number, got %v", r.ID, r.Weight)
		}
		byID[r.ID] = r
		sum += r.Weight
	}

	if math.Abs(sum-WeightSum) > weightEpsilon {
		return nil, fmt.Errorf("reward weights must sum to %v, got %v", WeightSum, sum)
	}

	p := &Pool{
		rewards: make([]RewardDefinition, len(rewards)),
		byID:    byID,
	}
	copy(p.rewards, rewards)
	return p, nil
}

// Rewards returns the pool contents in declaration order.
//
// Postcondition: The returned slice is a copy; mutating it does not affect
// the pool.
func (p *Pool) Rewards() []RewardDefinition {
	out := make([]RewardDefinition, len(p.rewards))
	copy(out, p.rewards)
	return out
}

// ByID looks up a reward by id.
func (p *Pool) ByID(id string) (RewardDefinition, bool) {
	r, ok := p.byID[id]
	return r, ok
}

// Size returns the number of rewards in the pool.
func (p *Pool) Size() int {
	return len(p.rewards)
}

// yamlPoolFile is the top-level YAML structure for reward pool files.
type yamlPoolFile struct {
	Rewards []yamlReward `yaml:"rewards"`
}

// yamlReward is the YAML representation of a reward definition.
type yamlReward struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	Rarity      string     `yaml:"rarity"`
	EffectType  string     `yaml:"effect_type"`
	EffectValue yamlScalar `yaml:"effect_value"`
	Weight      float64    `yaml:"weight"`
}

// yamlScalar accepts either a string or numeric YAML scalar and keeps its
// textual form. Effect values are opaque payloads whose interpretation
// depends on the effect type (an amount for currency, an identifier for
// ranks and items).
type yamlScalar string

func (s *yamlScalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("effect_value must be a scalar, got %v", node.Kind)
	}
	*s = yamlScalar(node.Value)
	return nil
}

// LoadPoolFromFile reads and validates a reward pool YAML file.
//
// Precondition: path must point to a valid YAML pool file.
// Postcondition: Returns a validated Pool or a non-nil error. A
// misconfigured pool is an error for the caller to treat as fatal; it is
// never silently repaired.
func LoadPoolFromFile(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading reward pool file %s: %w", path, err)
	}
	pool, err := LoadPoolFromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("loading reward pool %s: %w", path, err)
	}
	return pool, nil
}

// LoadPoolFromBytes parses and validates a reward pool from YAML bytes.
//
// Postcondition: Returns a validated Pool or a non-nil error.
func LoadPoolFromBytes(data []byte) (*Pool, error) {
	var file yamlPoolFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing reward pool YAML: %w", err)
	}

	rewards := make([]RewardDefinition, len(file.Rewards))
	for i, y := range file.Rewards {
		rewards[i] = RewardDefinition{
			ID:          y.ID,
			Name:        y.Name,
			Rarity:      Rarity(y.Rarity),
			EffectType:  EffectType(y.EffectType),
			EffectValue: string(y.EffectValue),
			Weight:      y.Weight,
		}
	}

	pool, err := NewPool(rewards)
	if err != nil {
		return nil, fmt.Errorf("validating reward pool: %w", err)
	}
	return pool, nil
}
