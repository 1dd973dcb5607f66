// Package rival implements the synthetic opponent whose XP grows on a
// schedule according to a configurable gain rule.
package rival

import (
	"errors"
	"time"

	"github.com/pixelprogress/server/game/ledger"
)

var (
	ErrUnknownRule  = errors.New("rival: unknown xp gain rule")
	ErrInvalidValue = errors.New("rival: invalid xp gain value")
)

// RuleKind names an XP gain rule.
type RuleKind string

const (
	RuleHourly                 RuleKind = "hourly"
	RulePercentageOfUserMissed RuleKind = "percentageOfUserMissed"
	RuleDailyFlatRate          RuleKind = "dailyFlatRate"
)

// Kinds lists every rule in display order.
var Kinds = []RuleKind{RuleHourly, RulePercentageOfUserMissed, RuleDailyFlatRate}

// ParseRule validates a rule name.
func ParseRule(s string) (RuleKind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", ErrUnknownRule
}

// ValidateValue checks a gain value against its rule.
func ValidateValue(kind RuleKind, value int) error {
	if value < 0 {
		return ErrInvalidValue
	}
	if kind == RulePercentageOfUserMissed && value > 100 {
		return ErrInvalidValue
	}
	return nil
}

// State is the persisted rival document of one user.
type State struct {
	XP    int      `json:"xp"`
	Rule  RuleKind `json:"xp_gain_rule"`
	Value int      `json:"xp_gain_value"`

	// Rule anchors. They are bookkeeping and not part of the public view.
	LastAwardAt   time.Time `json:"last_award_at,omitzero"`
	LastDay       string    `json:"last_day,omitempty"`
	ClaimedMissed []string  `json:"claimed_missed,omitempty"`
}

// View is the client-facing part of State.
type View struct {
	XP    int      `json:"xp"`
	Rule  RuleKind `json:"xp_gain_rule"`
	Value int      `json:"xp_gain_value"`
}

func (s State) View() View {
	return View{XP: s.XP, Rule: s.Rule, Value: s.Value}
}

// New returns a fresh rival. An invalid rule falls back to hourly.
func New(xp int, rule string, value int) State {
	kind, err := ParseRule(rule)
	if err != nil {
		kind = RuleHourly
	}
	return State{XP: xp, Rule: kind, Value: value}
}

// Configure changes the gain rule and value, resetting rule anchors.
func (s State) Configure(kind RuleKind, value int, now time.Time, loc *time.Location) (State, error) {
	if _, err := ParseRule(string(kind)); err != nil {
		return s, err
	}
	if err := ValidateValue(kind, value); err != nil {
		return s, err
	}
	out := s
	out.Rule = kind
	out.Value = value
	out.LastAwardAt = now
	out.LastDay = now.In(loc).Format(ledger.DateLayout)
	return out, nil
}

// Mount is called when the rival starts ticking for a viewer. Elapsed
// periods while nobody was watching are not backfilled.
func (s State) Mount(now time.Time) State {
	out := s
	out.LastAwardAt = now
	return out
}
