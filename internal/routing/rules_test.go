package routing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// S9: subscription-rule engine unit tests straight from the spec.
func TestRuleEnginePingNegation(t *testing.T) {
	rules := []string{"*", "!@ping"}

	ping := wire.New(map[string]interface{}{"event": "ping"}, nil)
	require.False(t, Decide(ping, rules))

	text := wire.New(map[string]interface{}{"type": "text/plain"}, nil)
	require.True(t, Decide(text, rules))
}

func TestRuleEngineNatureRule(t *testing.T) {
	rules := []string{"#colour"}

	withNature := wire.New(map[string]interface{}{"natures": []string{"colour"}}, nil)
	require.True(t, Decide(withNature, rules))

	without := wire.New(map[string]interface{}{}, nil)
	require.False(t, Decide(without, rules))
}

func TestRuleEnginePathGlob(t *testing.T) {
	rules := []string{"a/*"}

	match := wire.New(map[string]interface{}{"type": "a/b/c"}, nil)
	require.True(t, Decide(match, rules))

	noMatch := wire.New(map[string]interface{}{"type": "b/a"}, nil)
	require.False(t, Decide(noMatch, rules))
}

// P7: '*' delivers unless a later rule overrides it.
func TestRuleEngineStarMonotonicity(t *testing.T) {
	obj := wire.New(map[string]interface{}{"type": "anything/here"}, nil)
	require.True(t, Decide(obj, []string{"*"}))
	require.False(t, Decide(obj, []string{"*", "!anything/here"}))
}

func TestGlobMatchEdgeCases(t *testing.T) {
	require.True(t, globMatch("*", ""))
	require.False(t, globMatch("literal", ""))
	require.True(t, globMatch("a/b", "a/b"))
	require.False(t, globMatch("a/b", "a/b/c"))
}
