// Package routing implements the terminal Routing middleware stage:
// subscription handling, loop-suppressed delivery, service dispatch, and
// neighbor-topology announcements (§4.5–4.7).
package routing

import (
	"strings"

	"github.com/Biomine3000/Objectoplex/internal/wire"
)

// Decide evaluates an ordered list of subscription rules against obj and
// returns whether it should be delivered. All rules are processed in order;
// later rules override earlier ones (§4.6).
func Decide(obj *wire.Object, rules []string) bool {
	verdict := false

	for _, rule := range rules {
		negative := strings.HasPrefix(rule, "!")
		body := rule
		if negative {
			body = rule[1:]
		}

		switch {
		case strings.HasPrefix(body, "#"):
			nature := body[1:]
			for _, n := range obj.Natures() {
				if globMatch(nature, n) {
					verdict = !negative
					break
				}
			}
		case strings.HasPrefix(body, "@"):
			event := body[1:]
			if ev := obj.Event(); ev != "" && globMatch(event, ev) {
				verdict = !negative
			}
		default:
			if body == "*" || globMatch(body, obj.Type()) {
				verdict = !negative
			}
		}
	}

	return verdict
}

// globMatch implements the path-glob matching from §4.6: split both sides on
// '/'; a "*" pattern segment accepts the rest of the matchable side and
// returns true; running out of matchable segments before the pattern is
// exhausted is not a match; otherwise segments must be equal.
//
// A "*" pattern matches anything, including an empty matchable string. A
// non-"*" pattern never matches an empty matchable string.
func globMatch(pattern, matchable string) bool {
	if pattern == "*" {
		return true
	}
	if matchable == "" {
		return false
	}

	patternSegs := strings.Split(pattern, "/")
	matchSegs := strings.Split(matchable, "/")

	for i, seg := range patternSegs {
		if seg == "*" {
			return true
		}
		if i >= len(matchSegs) {
			return false
		}
		if seg != matchSegs[i] {
			return false
		}
	}

	return len(patternSegs) == len(matchSegs)
}
