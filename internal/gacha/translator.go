package gacha

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnresolvedIdentity is returned when a target identity cannot be turned
// into a valid in-game addressee. A roll must never be recorded as won while
// its effect is silently unqueued, so callers resolve and validate the
// identity before touching the ledger.
var ErrUnresolvedIdentity = errors.New("gacha: target identity could not be resolved")

// commandVerbs maps each effect type to the bridge command verb and whether
// the command carries a trailing quantity argument. The table is consulted
// exhaustively; pool validation guarantees every reward carries a known
// effect type.
var commandVerbs = map[EffectType]struct {
	verb     string
	quantity bool
}{
	EffectCurrency:   {verb: "grant-currency"},
	EffectRank:       {verb: "grant-rank"},
	EffectItem:       {verb: "grant-item", quantity: true},
	EffectExperience: {verb: "grant-xp"},
}

// Commands translates a won reward into the bridge command strings that
// deliver its effect to target.
//
// Precondition: reward must come from a validated Pool.
// Postcondition: Returns at least one fully formed command, or
// ErrUnresolvedIdentity when target sanitizes to nothing. Pure.
func Commands(reward RewardDefinition, target string) ([]string, error) {
	safe := SanitizeTarget(target)
	if safe == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnresolvedIdentity, target)
	}

	entry, ok := commandVerbs[reward.EffectType]
	if !ok {
		return nil, fmt.Errorf("reward %q: no command mapping for effect type %q", reward.ID, reward.EffectType)
	}

	cmd := fmt.Sprintf("%s %s %s", entry.verb, safe, reward.EffectValue)
	if entry.quantity {
		cmd += " 1"
	}
	return []string{cmd}, nil
}

// SanitizeTarget strips every character outside [A-Za-z0-9_] from target.
// Minecraft usernames permit nothing else, and the bridge interpolates the
// target into console commands verbatim.
func SanitizeTarget(target string) string {
	var b strings.Builder
	b.Grow(len(target))
	for _, c := range target {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteRune(c)
		}
	}
	return b.String()
}
