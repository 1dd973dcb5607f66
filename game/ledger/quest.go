// Package ledger holds the quest data model and the pure functions that
// reconcile a user's XP total with toggles, edits and deletions.
package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrEmptyTitle     = errors.New("ledger: title is required")
	ErrNegativeXP     = errors.New("ledger: xp must not be negative")
	ErrInvalidDueDate = errors.New("ledger: due date must be YYYY-MM-DD")
)

// DateLayout is the wire format of due dates and history days.
const DateLayout = "2006-01-02"

// Category tags a quest for icon selection.
type Category string

const (
	CategoryWork    Category = "work"
	CategoryStudy   Category = "study"
	CategoryFitness Category = "fitness"
	CategoryHobby   Category = "hobby"
	CategoryChore   Category = "chore"

	DefaultCategory = CategoryWork
)

// Categories lists the accepted categories in display order.
var Categories = []Category{CategoryWork, CategoryStudy, CategoryFitness, CategoryHobby, CategoryChore}

// ParseCategory maps s to a known category, falling back to DefaultCategory.
func ParseCategory(s string) Category {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c
		}
	}
	return DefaultCategory
}

// SubTask is a checklist item owned by exactly one Quest.
type SubTask struct {
	ID          string `json:"id" yaml:"id"`
	Title       string `json:"title" yaml:"title"`
	XP          int    `json:"xp" yaml:"xp"`
	IsCompleted bool   `json:"is_completed" yaml:"is_completed"`
}

// Quest is the top-level unit of XP reward.
type Quest struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	XP              int       `json:"xp"`
	IsCompleted     bool      `json:"is_completed"`
	SubTasks        []SubTask `json:"sub_tasks"`
	CreatedAt       time.Time `json:"created_at"`
	DueDate         string    `json:"due_date,omitempty"`
	Category        Category  `json:"category"`
	TimeAllocation  int       `json:"time_allocation,omitempty"`
	Images          []string  `json:"images,omitempty"`
	Image           string    `json:"image,omitempty"`
	ReminderEnabled bool      `json:"reminder_enabled,omitempty"`
}

// Clone returns a deep copy so callers can mutate slices freely.
func (q Quest) Clone() Quest {
	out := q
	if q.SubTasks != nil {
		out.SubTasks = append([]SubTask(nil), q.SubTasks...)
	}
	if q.Images != nil {
		out.Images = append([]string(nil), q.Images...)
	}
	return out
}

// AllSubTasksCompleted reports whether every sub-task is complete. It is
// false for a quest without sub-tasks.
func (q Quest) AllSubTasksCompleted() bool {
	if len(q.SubTasks) == 0 {
		return false
	}
	for _, st := range q.SubTasks {
		if !st.IsCompleted {
			return false
		}
	}
	return true
}

func (q Quest) subTaskIndex(id string) int {
	for i, st := range q.SubTasks {
		if st.ID == id {
			return i
		}
	}
	return -1
}

// NewID returns a time-ordered unique id.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func normalizeTitle(title string) (string, error) {
	t := strings.TrimSpace(title)
	if t == "" {
		return "", ErrEmptyTitle
	}
	return t, nil
}

func validateDueDate(d string) error {
	if d == "" {
		return nil
	}
	if _, err := time.Parse(DateLayout, d); err != nil {
		return ErrInvalidDueDate
	}
	return nil
}

// Index returns the position of the quest with id, or -1.
func Index(quests []Quest, id string) int {
	for i := range quests {
		if quests[i].ID == id {
			return i
		}
	}
	return -1
}
