package ledger

import (
	"slices"
	"strings"
	"time"
)

// SortForDisplay returns a copy with incomplete quests before completed ones,
// otherwise preserving order.
func SortForDisplay(quests []Quest) []Quest {
	out := append([]Quest(nil), quests...)
	slices.SortStableFunc(out, func(a, b Quest) int {
		switch {
		case a.IsCompleted == b.IsCompleted:
			return 0
		case !a.IsCompleted:
			return -1
		default:
			return 1
		}
	})
	return out
}

// Day is the calendar day a quest belongs to: its due date, or the day it
// was created in loc.
func (q Quest) Day(loc *time.Location) string {
	if q.DueDate != "" {
		return q.DueDate
	}
	return q.CreatedAt.In(loc).Format(DateLayout)
}

// OnDay returns the quests that belong to day.
func OnDay(quests []Quest, day string, loc *time.Location) []Quest {
	var out []Quest
	for _, q := range quests {
		if q.Day(loc) == day {
			out = append(out, q)
		}
	}
	return out
}

// DaySummary aggregates one calendar day.
type DaySummary struct {
	Date       string  `json:"date"`
	Total      int     `json:"total"`
	Completed  int     `json:"completed"`
	XPEarned   int     `json:"xp_earned"`
	XPPossible int     `json:"xp_possible"`
	Percent    float64 `json:"percent"`
}

// Summarize builds the summary of the quests that belong to day.
func Summarize(quests []Quest, day string, loc *time.Location) DaySummary {
	dayQuests := OnDay(quests, day, loc)
	s := DaySummary{Date: day, Total: len(dayQuests)}
	for _, q := range dayQuests {
		if q.IsCompleted {
			s.Completed++
		}
	}
	s.XPEarned, s.XPPossible = Totals(dayQuests)
	s.Percent = Aggregate(dayQuests)
	return s
}

// Search returns quests whose title or description contains query
// (case-insensitive), newest first. An empty query matches everything.
func Search(quests []Quest, query string) []Quest {
	needle := strings.ToLower(strings.TrimSpace(query))
	out := make([]Quest, 0, len(quests))
	for _, q := range quests {
		if needle == "" ||
			strings.Contains(strings.ToLower(q.Title), needle) ||
			strings.Contains(strings.ToLower(q.Description), needle) {
			out = append(out, q)
		}
	}
	slices.SortStableFunc(out, func(a, b Quest) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Revive clones q as a fresh, incomplete quest due today.
func Revive(q Quest, now time.Time, loc *time.Location) Quest {
	out := q.Clone()
	out.ID = NewID()
	out.IsCompleted = false
	out.CreatedAt = now
	out.DueDate = now.In(loc).Format(DateLayout)
	for i := range out.SubTasks {
		out.SubTasks[i].ID = NewID()
		out.SubTasks[i].IsCompleted = false
	}
	return out
}

// Missed reports whether q is incomplete and its due date is before today.
func Missed(q Quest, today string) bool {
	return !q.IsCompleted && q.DueDate != "" && q.DueDate < today
}
