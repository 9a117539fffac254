// SPDX-License-Identifier: MIT
package policy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBlockFlagsDefaults(t *testing.T) {
	flags := NormalizeBlockFlags("")
	require.Len(t, flags, len(BlockPresets))
	assert.True(t, flags["block_cocomelon"])
	assert.True(t, flags["block_nursery_factory"])
	assert.True(t, flags["block_kids_clickbait_animals"])
	assert.False(t, flags["block_skibidi"])
}

func TestNormalizeBlockFlagsOverridesAndUnknownKeys(t *testing.T) {
	flags := NormalizeBlockFlags(`{"block_cocomelon": false, "block_skibidi": true, "bogus": true}`)
	assert.False(t, flags["block_cocomelon"])
	assert.True(t, flags["block_skibidi"])
	_, ok := flags["bogus"]
	assert.False(t, ok, "unknown keys must be dropped")
}

func TestNormalizeFlagsInvalidJSON(t *testing.T) {
	flags := NormalizeAllowFlags("{not json")
	assert.True(t, flags["allow_90s_cartoons"], "defaults apply on parse failure")
	assert.False(t, flags["allow_religion"])
}

func TestMatchBlockWordBoundaryNeedles(t *testing.T) {
	flags := Flags{"block_kill_die": true}

	label, hit := MatchBlock(flags, Haystack("how to kill", "", ""))
	require.True(t, hit, "trailing space in haystack must complete ' kill '")
	assert.Equal(t, "Kill / Killing / Die", label)

	_, hit = MatchBlock(flags, Haystack("killington resort tour", "", ""))
	assert.False(t, hit, "'killington' must not match ' kill '")
}

func TestMatchBlockDisabledPreset(t *testing.T) {
	flags := NormalizeBlockFlags(`{"block_cocomelon": false, "block_nursery_factory": false, "block_kids_clickbait_animals": false}`)
	_, hit := MatchBlock(flags, Haystack("Cocomelon Songs for Kids", "", ""))
	assert.False(t, hit)
}

func TestMatchAllow(t *testing.T) {
	flags := NormalizeAllowFlags("")
	label, hit := MatchAllow(flags, Haystack("Rugrats full episode", "Nick", ""))
	require.True(t, hit)
	assert.Equal(t, "90s Cartoons", label)
}

func TestMatchStrictClickbait(t *testing.T) {
	assert.True(t, MatchStrictClickbait(Haystack("BABY MONKEY pool prank", "", "")))
	assert.False(t, MatchStrictClickbait(Haystack("calm space documentary", "", "")))
}

func TestBuildBlockPromptAddon(t *testing.T) {
	assert.Empty(t, BuildBlockPromptAddon(Flags{}))

	addon := BuildBlockPromptAddon(Flags{"block_cocomelon": true})
	assert.True(t, strings.HasPrefix(addon, "Strict policy overrides enabled by admin toggles:"))
	assert.Contains(t, addon, "- Cocomelon: ")
}

func TestBuildAllowPromptAddonEmptyMeansBlock(t *testing.T) {
	addon := BuildAllowPromptAddon(Flags{})
	assert.Equal(t, "No allow profile categories are enabled. Default to BLOCK.", addon)

	addon = BuildAllowPromptAddon(Flags{"allow_educational": true})
	assert.Contains(t, addon, "- Educational: ")
}
