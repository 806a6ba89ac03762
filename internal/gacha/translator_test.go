package gacha_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killunetwork/gacha/internal/gacha"
)

// TestCommands_Templates verifies each effect type produces exactly one
// command matching its template.
func TestCommands_Templates(t *testing.T) {
	cases := []struct {
		name   string
		reward gacha.RewardDefinition
		want   string
	}{
		{
			name:   "currency",
			reward: gacha.RewardDefinition{ID: "coins", EffectType: gacha.EffectCurrency, EffectValue: "50"},
			want:   "grant-currency Steve 50",
		},
		{
			name:   "rank",
			reward: gacha.RewardDefinition{ID: "vip", EffectType: gacha.EffectRank, EffectValue: "vip_3d"},
			want:   "grant-rank Steve vip_3d",
		},
		{
			name:   "item",
			reward: gacha.RewardDefinition{ID: "diamond", EffectType: gacha.EffectItem, EffectValue: "diamond"},
			want:   "grant-item Steve diamond 1",
		},
		{
			name:   "experience",
			reward: gacha.RewardDefinition{ID: "xp", EffectType: gacha.EffectExperience, EffectValue: "100"},
			want:   "grant-xp Steve 100",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmds, err := gacha.Commands(tc.reward, "Steve")
			require.NoError(t, err)
			require.Len(t, cmds, 1, "each effect type maps to exactly one command")
			assert.Equal(t, tc.want, cmds[0])
		})
	}
}

// TestCommands_SanitizesTarget verifies hostile characters never reach the
// command string: the bridge splices the target into console commands.
func TestCommands_SanitizesTarget(t *testing.T) {
	reward := gacha.RewardDefinition{ID: "coins", EffectType: gacha.EffectCurrency, EffectValue: "50"}

	cmds, err := gacha.Commands(reward, "Ste ve; op @a")
	require.NoError(t, err)
	assert.Equal(t, "grant-currency Steveopa 50", cmds[0])
}

// TestCommands_UnresolvableTarget verifies a target that sanitizes to
// nothing yields ErrUnresolvedIdentity and no commands.
func TestCommands_UnresolvableTarget(t *testing.T) {
	reward := gacha.RewardDefinition{ID: "coins", EffectType: gacha.EffectCurrency, EffectValue: "50"}

	for _, target := range []string{"", "   ", "@!#$%", "; op @a"} {
		cmds, err := gacha.Commands(reward, target)
		assert.ErrorIs(t, err, gacha.ErrUnresolvedIdentity, "target %q", target)
		assert.Empty(t, cmds, "target %q", target)
	}
}

// TestCommands_UnknownEffectType covers the defensive path for a reward that
// bypassed pool validation.
func TestCommands_UnknownEffectType(t *testing.T) {
	reward := gacha.RewardDefinition{ID: "odd", EffectType: "crate", EffectValue: "key"}

	_, err := gacha.Commands(reward, "Steve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no command mapping")
}

func TestSanitizeTarget(t *testing.T) {
	cases := map[string]string{
		"Steve":         "Steve",
		"x_Killu_99":    "x_Killu_99",
		"name with ws":  "namewithws",
		"'; DROP x; --": "DROPx",
		"ñandú":         "and",
	}
	for in, want := range cases {
		assert.Equal(t, want, gacha.SanitizeTarget(in), "input %q", in)
	}
}
