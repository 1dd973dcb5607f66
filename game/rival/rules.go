package rival

import (
	"slices"
	"time"

	"github.com/pixelprogress/server/game/ledger"
)

// Input is everything a rule may look at during one tick.
type Input struct {
	Now          time.Time
	Loc          *time.Location
	Quests       []ledger.Quest
	HourlyPeriod time.Duration
}

func (in Input) today() string {
	loc := in.Loc
	if loc == nil {
		loc = time.Local
	}
	return in.Now.In(loc).Format(ledger.DateLayout)
}

// Rule computes the XP earned on one tick and advances its anchors in s.
type Rule interface {
	Kind() RuleKind
	Apply(s *State, in Input) int
}

// RuleFor returns the executor of kind, or nil.
func RuleFor(kind RuleKind) Rule {
	switch kind {
	case RuleHourly:
		return hourlyRule{}
	case RulePercentageOfUserMissed:
		return missedRule{}
	case RuleDailyFlatRate:
		return dailyRule{}
	}
	return nil
}

// hourlyRule awards Value per whole period elapsed since the last award.
type hourlyRule struct{}

func (hourlyRule) Kind() RuleKind { return RuleHourly }

func (hourlyRule) Apply(s *State, in Input) int {
	period := in.HourlyPeriod
	if period <= 0 {
		period = time.Hour
	}
	if s.LastAwardAt.IsZero() {
		s.LastAwardAt = in.Now
		return 0
	}
	elapsed := in.Now.Sub(s.LastAwardAt)
	if elapsed < period {
		return 0
	}
	n := int(elapsed / period)
	s.LastAwardAt = s.LastAwardAt.Add(time.Duration(n) * period)
	return n * s.Value
}

// dailyRule awards Value once on the first tick of each new day.
type dailyRule struct{}

func (dailyRule) Kind() RuleKind { return RuleDailyFlatRate }

func (dailyRule) Apply(s *State, in Input) int {
	today := in.today()
	if s.LastDay == "" {
		s.LastDay = today
		return 0
	}
	if today <= s.LastDay {
		return 0
	}
	s.LastDay = today
	return s.Value
}

// missedRule awards Value percent, floored per quest, of the XP the user left
// on overdue quests. Each quest is counted once.
type missedRule struct{}

func (missedRule) Kind() RuleKind { return RulePercentageOfUserMissed }

func (missedRule) Apply(s *State, in Input) int {
	today := in.today()
	claimed := make(map[string]bool, len(s.ClaimedMissed))
	for _, id := range s.ClaimedMissed {
		claimed[id] = true
	}

	gain := 0
	live := make([]string, 0, len(s.ClaimedMissed))
	for _, q := range in.Quests {
		if claimed[q.ID] {
			live = append(live, q.ID)
			continue
		}
		if !ledger.Missed(q, today) {
			continue
		}
		gain += (ledger.Possible(q) - ledger.Earned(q)) * s.Value / 100
		live = append(live, q.ID)
	}
	// Claims for quests that no longer exist are dropped.
	slices.Sort(live)
	s.ClaimedMissed = live
	return gain
}

// Engine runs the configured rule plus the ambient drift on each tick.
type Engine struct {
	HourlyPeriod time.Duration
	DriftMax     int
	Rand         ledger.Rand
	Loc          *time.Location
}

// Gain reports what one tick added.
type Gain struct {
	Rule  int `json:"rule"`
	Drift int `json:"drift"`
}

func (g Gain) Total() int { return g.Rule + g.Drift }

// Tick evaluates one scheduler tick against the user's quests.
func (e Engine) Tick(s State, quests []ledger.Quest, now time.Time) (State, Gain) {
	out := s
	out.ClaimedMissed = append([]string(nil), s.ClaimedMissed...)

	var g Gain
	if r := RuleFor(out.Rule); r != nil {
		g.Rule = r.Apply(&out, Input{
			Now:          now,
			Loc:          e.Loc,
			Quests:       quests,
			HourlyPeriod: e.HourlyPeriod,
		})
	}
	if e.DriftMax > 0 && e.Rand != nil {
		g.Drift = e.Rand.IntN(e.DriftMax)
	}
	out.XP += g.Total()
	return out, g
}
