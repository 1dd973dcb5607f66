package ledger

import (
	"time"
)

// Rand is the subset of math/rand/v2 used to draw quick-add rewards.
type Rand interface {
	IntN(n int) int
}

// XPRange is an inclusive reward range for quick-added quests.
type XPRange struct {
	Min int
	Max int
}

// DefaultQuickAddRange matches the quick-add reward of 10–39 XP.
var DefaultQuickAddRange = XPRange{Min: 10, Max: 39}

// Draw picks a reward uniformly from the range. A reversed or negative range
// is clamped rather than rejected.
func (r XPRange) Draw(rnd Rand) int {
	lo, hi := max(r.Min, 0), max(r.Max, 0)
	if hi < lo {
		lo, hi = hi, lo
	}
	return lo + rnd.IntN(hi-lo+1)
}

// SubTaskDraft is user input for a new sub-task.
type SubTaskDraft struct {
	Title string `json:"title" yaml:"title"`
	XP    int    `json:"xp" yaml:"xp"`
}

// Draft is user input for a new quest from the full form.
type Draft struct {
	Title           string         `json:"title" yaml:"title"`
	Description     string         `json:"description" yaml:"description"`
	Notes           string         `json:"notes" yaml:"notes"`
	XP              int            `json:"xp" yaml:"xp"`
	DueDate         string         `json:"due_date" yaml:"due_date"`
	Category        string         `json:"category" yaml:"category"`
	TimeAllocation  int            `json:"time_allocation" yaml:"time_allocation"`
	Images          []string       `json:"images" yaml:"images"`
	Image           string         `json:"image" yaml:"image"`
	ReminderEnabled bool           `json:"reminder_enabled" yaml:"reminder_enabled"`
	SubTasks        []SubTaskDraft `json:"sub_tasks" yaml:"sub_tasks"`
}

// NewQuest builds an incomplete quest from a form draft.
func NewQuest(d Draft, now time.Time) (Quest, error) {
	title, err := normalizeTitle(d.Title)
	if err != nil {
		return Quest{}, err
	}
	if d.XP < 0 || d.TimeAllocation < 0 {
		return Quest{}, ErrNegativeXP
	}
	if err := validateDueDate(d.DueDate); err != nil {
		return Quest{}, err
	}
	subs := make([]SubTask, 0, len(d.SubTasks))
	for _, sd := range d.SubTasks {
		st, err := NewSubTask(sd.Title, sd.XP)
		if err != nil {
			return Quest{}, err
		}
		subs = append(subs, st)
	}
	q := Quest{
		ID:              NewID(),
		Title:           title,
		Description:     d.Description,
		Notes:           d.Notes,
		XP:              d.XP,
		SubTasks:        subs,
		CreatedAt:       now,
		DueDate:         d.DueDate,
		Category:        ParseCategory(d.Category),
		TimeAllocation:  d.TimeAllocation,
		Image:           d.Image,
		ReminderEnabled: d.ReminderEnabled,
	}
	if len(d.Images) > 0 {
		q.Images = append([]string(nil), d.Images...)
	}
	return q, nil
}

// NewSubTask builds an incomplete sub-task.
func NewSubTask(title string, xp int) (SubTask, error) {
	t, err := normalizeTitle(title)
	if err != nil {
		return SubTask{}, err
	}
	if xp < 0 {
		return SubTask{}, ErrNegativeXP
	}
	return SubTask{ID: NewID(), Title: t, XP: xp}, nil
}

// QuickAdd builds a quest from a bare title with a random reward from r.
func QuickAdd(title string, r XPRange, rnd Rand, now time.Time) (Quest, error) {
	return NewQuest(Draft{Title: title, XP: r.Draw(rnd)}, now)
}

// Prepend returns a new collection with q first.
func Prepend(quests []Quest, q Quest) []Quest {
	out := make([]Quest, 0, len(quests)+1)
	out = append(out, q)
	return append(out, quests...)
}
