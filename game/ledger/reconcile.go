package ledger

// Toggle applies a completion toggle and returns the updated quest with the
// XP delta it produces. An empty subTaskID toggles the quest itself.
//
// Completing a quest completes every sub-task and rewards those not already
// complete. Un-completing a quest reverses only the quest's own XP and leaves
// sub-tasks as they are. Toggling a sub-task re-derives the parent state, and
// a parent flip adds or removes the quest XP exactly once. An unknown
// subTaskID returns the quest unchanged with a zero delta.
func Toggle(q Quest, subTaskID string) (Quest, int) {
	if subTaskID == "" {
		return toggleQuest(q)
	}
	return toggleSubTask(q, subTaskID)
}

func toggleQuest(q Quest) (Quest, int) {
	out := q.Clone()
	out.IsCompleted = !q.IsCompleted
	if !out.IsCompleted {
		return out, -q.XP
	}
	delta := q.XP
	for i := range out.SubTasks {
		if !out.SubTasks[i].IsCompleted {
			out.SubTasks[i].IsCompleted = true
			delta += out.SubTasks[i].XP
		}
	}
	return out, delta
}

func toggleSubTask(q Quest, subTaskID string) (Quest, int) {
	idx := q.subTaskIndex(subTaskID)
	if idx < 0 {
		return q, 0
	}
	out := q.Clone()
	st := &out.SubTasks[idx]
	st.IsCompleted = !st.IsCompleted
	delta := st.XP
	if !st.IsCompleted {
		delta = -st.XP
	}

	if len(out.SubTasks) > 0 {
		wasCompleted := q.IsCompleted
		out.IsCompleted = out.AllSubTasksCompleted()
		switch {
		case out.IsCompleted && !wasCompleted:
			delta += q.XP
		case !out.IsCompleted && wasCompleted:
			delta -= q.XP
		}
	}
	return out, delta
}

// ReconcileDeletion returns the (non-positive) XP delta that removing q
// claws back: the quest XP if it was complete plus every completed sub-task.
func ReconcileDeletion(q Quest) int {
	return -Earned(q)
}

// ToggleIn applies Toggle to the quest with questID inside quests. The input
// slice is not modified. An unknown id returns quests unchanged.
func ToggleIn(quests []Quest, questID, subTaskID string) ([]Quest, int, bool) {
	idx := Index(quests, questID)
	if idx < 0 {
		return quests, 0, false
	}
	updated, delta := Toggle(quests[idx], subTaskID)
	out := append([]Quest(nil), quests...)
	out[idx] = updated
	return out, delta, true
}

// DeleteFrom removes the quest with id and returns the new collection, the
// removed quest and its deletion delta.
func DeleteFrom(quests []Quest, id string) ([]Quest, Quest, int, bool) {
	idx := Index(quests, id)
	if idx < 0 {
		return quests, Quest{}, 0, false
	}
	removed := quests[idx]
	out := make([]Quest, 0, len(quests)-1)
	out = append(out, quests[:idx]...)
	out = append(out, quests[idx+1:]...)
	return out, removed, ReconcileDeletion(removed), true
}
