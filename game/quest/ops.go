package quest

import (
	"context"
	"errors"
	"time"

	"github.com/pixelprogress/server/audit"
	"github.com/pixelprogress/server/game/ledger"
	"github.com/pixelprogress/server/plugin/hook"
)

// Result is returned by every quest mutation. Found is false when the target
// id did not exist and nothing changed.
type Result struct {
	Found    bool            `json:"-"`
	Quest    *ledger.Quest   `json:"quest,omitempty"`
	SubTask  *ledger.SubTask `json:"sub_task,omitempty"`
	Delta    int             `json:"delta"`
	XP       int             `json:"xp"`
	Progress float64         `json:"progress"`
}

// mutation edits st in place and describes the change. ok=false means the
// target was not found and nothing is persisted.
type mutation func(st *state) (ch change, ok bool, err error)

// apply runs fn under the user lock, applies its delta to the ledger,
// persists, then emits side effects outside the lock.
func (svc *Service) apply(ctx context.Context, userID int64, fn mutation) (*Result, error) {
	started := time.Now()
	unlock := svc.lock(userID)
	st, err := svc.loadState(ctx, userID, true)
	if err != nil {
		unlock()
		return nil, err
	}
	ch, ok, err := fn(st)
	if err != nil {
		unlock()
		return nil, err
	}
	if !ok {
		unlock()
		return &Result{XP: st.xp, Progress: ledger.Aggregate(st.quests)}, nil
	}
	st.xp += ch.delta
	if err := svc.saveState(ctx, userID, st); err != nil {
		unlock()
		return nil, err
	}
	unlock()

	svc.emit(ctx, userID, st, ch, started)
	return &Result{
		Found:    true,
		Quest:    ch.quest,
		SubTask:  ch.subTask,
		Delta:    ch.delta,
		XP:       st.xp,
		Progress: ledger.Aggregate(st.quests),
	}, nil
}

func (svc *Service) checkImages(images []string) error {
	if svc.qcfg.MaxImages > 0 && len(images) > svc.qcfg.MaxImages {
		return ErrTooManyImages
	}
	return nil
}

// beforeCreate lets hooks veto or rewrite a new quest's title and XP.
func (svc *Service) beforeCreate(ctx context.Context, userID int64, q ledger.Quest, quick bool) (ledger.Quest, error) {
	in := &hook.QuestCreate{UserID: userID, Title: q.Title, XP: q.XP, QuickAdd: quick}
	out, err := svc.hooks.Trigger(ctx, hook.BeforeQuestCreate, in)
	if errors.Is(err, hook.ErrInterrupt) {
		return q, ErrVetoed
	}
	qc, ok := out.(*hook.QuestCreate)
	if !ok || (qc.Title == q.Title && qc.XP == q.XP) {
		return q, nil
	}
	edited, _, err := ledger.Edit(q, ledger.Patch{Title: &qc.Title, XP: &qc.XP})
	return edited, err
}

func (svc *Service) prepend(ctx context.Context, userID int64, action string, build func() (ledger.Quest, error), request any) (*Result, error) {
	return svc.apply(ctx, userID, func(st *state) (change, bool, error) {
		q, err := build()
		if err != nil {
			return change{}, false, err
		}
		q, err = svc.beforeCreate(ctx, userID, q, action == audit.ActionQuestQuickAdd)
		if err != nil {
			return change{}, false, err
		}
		st.quests = ledger.Prepend(st.quests, q)
		return change{action: action, quest: &q, request: request}, true, nil
	})
}

// CreateQuest adds a quest from the full form to the front of the collection.
func (svc *Service) CreateQuest(ctx context.Context, userID int64, d ledger.Draft) (*Result, error) {
	if err := svc.checkImages(d.Images); err != nil {
		return nil, err
	}
	return svc.prepend(ctx, userID, audit.ActionQuestCreate, func() (ledger.Quest, error) {
		return ledger.NewQuest(d, svc.now())
	}, d)
}

// QuickAdd adds a quest from a bare title with a random XP reward.
func (svc *Service) QuickAdd(ctx context.Context, userID int64, title string) (*Result, error) {
	return svc.prepend(ctx, userID, audit.ActionQuestQuickAdd, func() (ledger.Quest, error) {
		return ledger.QuickAdd(title, svc.xpMin, svc.rnd, svc.now())
	}, map[string]string{"title": title})
}

// justCompleted returns after in a slice when the mutation completed it.
func justCompleted(before, after ledger.Quest) []ledger.Quest {
	if !before.IsCompleted && after.IsCompleted {
		return []ledger.Quest{after}
	}
	return nil
}

func hasSubTask(q ledger.Quest, id string) bool {
	for _, st := range q.SubTasks {
		if st.ID == id {
			return true
		}
	}
	return false
}

// ToggleQuest flips a quest's completion through the completion reconciler.
func (svc *Service) ToggleQuest(ctx context.Context, userID int64, questID string) (*Result, error) {
	return svc.toggle(ctx, userID, questID, "")
}

// ToggleSubTask flips one sub-task and re-derives its parent.
func (svc *Service) ToggleSubTask(ctx context.Context, userID int64, questID, subTaskID string) (*Result, error) {
	if subTaskID == "" {
		return svc.apply(ctx, userID, func(*state) (change, bool, error) { return change{}, false, nil })
	}
	return svc.toggle(ctx, userID, questID, subTaskID)
}

func (svc *Service) toggle(ctx context.Context, userID int64, questID, subTaskID string) (*Result, error) {
	action := audit.ActionQuestToggle
	if subTaskID != "" {
		action = audit.ActionSubTaskToggle
	}
	return svc.apply(ctx, userID, func(st *state) (change, bool, error) {
		idx := ledger.Index(st.quests, questID)
		if idx < 0 {
			return change{}, false, nil
		}
		before := st.quests[idx]
		if subTaskID != "" && !hasSubTask(before, subTaskID) {
			return change{}, false, nil
		}
		quests, delta, _ := ledger.ToggleIn(st.quests, questID, subTaskID)
		st.quests = quests
		after := quests[idx]
		return change{
			action:    action,
			quest:     &after,
			delta:     delta,
			request:   map[string]string{"quest_id": questID, "sub_task_id": subTaskID},
			completed: justCompleted(before, after),
		}, true, nil
	})
}

// EditQuest applies a partial update. The ledger moves by the change in the
// quest's earned XP.
func (svc *Service) EditQuest(ctx context.Context, userID int64, questID string, p ledger.Patch) (*Result, error) {
	if p.Images != nil {
		if err := svc.checkImages(*p.Images); err != nil {
			return nil, err
		}
	}
	return svc.editWith(ctx, userID, questID, audit.ActionQuestEdit, p, func(q ledger.Quest) (ledger.Quest, *ledger.SubTask, int, bool, error) {
		out, delta, err := ledger.Edit(q, p)
		return out, nil, delta, true, err
	})
}

// AddSubTask appends a sub-task. A nil xp uses the configured default.
func (svc *Service) AddSubTask(ctx context.Context, userID int64, questID, title string, xp *int) (*Result, error) {
	reward := svc.qcfg.DefaultSubXP
	if xp != nil {
		reward = *xp
	}
	req := map[string]any{"title": title, "xp": reward}
	return svc.editWith(ctx, userID, questID, audit.ActionSubTaskAdd, req, func(q ledger.Quest) (ledger.Quest, *ledger.SubTask, int, bool, error) {
		out, sub, delta, err := ledger.AddSubTask(q, title, reward)
		return out, &sub, delta, true, err
	})
}

// DeleteSubTask removes a sub-task. An unknown id is a no-op.
func (svc *Service) DeleteSubTask(ctx context.Context, userID int64, questID, subTaskID string) (*Result, error) {
	req := map[string]string{"sub_task_id": subTaskID}
	return svc.editWith(ctx, userID, questID, audit.ActionSubTaskDelete, req, func(q ledger.Quest) (ledger.Quest, *ledger.SubTask, int, bool, error) {
		out, delta, ok := ledger.RemoveSubTask(q, subTaskID)
		return out, nil, delta, ok, nil
	})
}

type editFn func(q ledger.Quest) (out ledger.Quest, sub *ledger.SubTask, delta int, ok bool, err error)

func (svc *Service) editWith(ctx context.Context, userID int64, questID, action string, request any, fn editFn) (*Result, error) {
	return svc.apply(ctx, userID, func(st *state) (change, bool, error) {
		idx := ledger.Index(st.quests, questID)
		if idx < 0 {
			return change{}, false, nil
		}
		before := st.quests[idx]
		after, s, delta, ok, err := fn(before)
		if err != nil || !ok {
			return change{}, false, err
		}
		quests := append([]ledger.Quest(nil), st.quests...)
		quests[idx] = after
		st.quests = quests
		return change{
			action:    action,
			quest:     &after,
			subTask:   s,
			delta:     delta,
			request:   request,
			completed: justCompleted(before, after),
		}, true, nil
	})
}

// DeleteQuest removes a quest and claws back everything it had earned.
func (svc *Service) DeleteQuest(ctx context.Context, userID int64, questID string) (*Result, error) {
	return svc.apply(ctx, userID, func(st *state) (change, bool, error) {
		quests, removed, delta, ok := ledger.DeleteFrom(st.quests, questID)
		if !ok {
			return change{}, false, nil
		}
		st.quests = quests
		return change{
			action:  audit.ActionQuestDelete,
			quest:   &removed,
			delta:   delta,
			request: map[string]string{"quest_id": questID},
		}, true, nil
	})
}

// Revive clones a quest as a fresh incomplete quest due today.
func (svc *Service) Revive(ctx context.Context, userID int64, questID string) (*Result, error) {
	return svc.apply(ctx, userID, func(st *state) (change, bool, error) {
		idx := ledger.Index(st.quests, questID)
		if idx < 0 {
			return change{}, false, nil
		}
		q := ledger.Revive(st.quests[idx], svc.now(), svc.loc)
		st.quests = ledger.Prepend(st.quests, q)
		return change{
			action:  audit.ActionQuestRevive,
			quest:   &q,
			request: map[string]string{"source_id": questID},
		}, true, nil
	})
}

// Reset clears the collection and zeroes the ledger. The starter pack is not
// re-seeded.
func (svc *Service) Reset(ctx context.Context, userID int64) (*Result, error) {
	return svc.apply(ctx, userID, func(st *state) (change, bool, error) {
		delta := -st.xp
		st.quests = []ledger.Quest{}
		return change{action: audit.ActionReset, delta: delta}, true, nil
	})
}
