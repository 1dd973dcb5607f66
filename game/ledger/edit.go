package ledger

// Patch is a partial update of a quest. Nil fields are left untouched.
type Patch struct {
	Title           *string    `json:"title"`
	Description     *string    `json:"description"`
	Notes           *string    `json:"notes"`
	XP              *int       `json:"xp"`
	DueDate         *string    `json:"due_date"`
	Category        *string    `json:"category"`
	TimeAllocation  *int       `json:"time_allocation"`
	Images          *[]string  `json:"images"`
	Image           *string    `json:"image"`
	ReminderEnabled *bool      `json:"reminder_enabled"`
	SubTasks        *[]SubTask `json:"sub_tasks"`
}

// Edit applies p to q and returns the XP delta needed to keep the ledger
// equal to the collection's earned XP. Completion is re-derived from the
// sub-tasks only when the patch replaces the sub-task list; a quest
// un-completed at quest level stays open through plain field edits.
func Edit(q Quest, p Patch) (Quest, int, error) {
	out := q.Clone()
	if p.Title != nil {
		t, err := normalizeTitle(*p.Title)
		if err != nil {
			return q, 0, err
		}
		out.Title = t
	}
	if p.Description != nil {
		out.Description = *p.Description
	}
	if p.Notes != nil {
		out.Notes = *p.Notes
	}
	if p.XP != nil {
		if *p.XP < 0 {
			return q, 0, ErrNegativeXP
		}
		out.XP = *p.XP
	}
	if p.DueDate != nil {
		if err := validateDueDate(*p.DueDate); err != nil {
			return q, 0, err
		}
		out.DueDate = *p.DueDate
	}
	if p.Category != nil {
		out.Category = ParseCategory(*p.Category)
	}
	if p.TimeAllocation != nil {
		if *p.TimeAllocation < 0 {
			return q, 0, ErrNegativeXP
		}
		out.TimeAllocation = *p.TimeAllocation
	}
	if p.Images != nil {
		out.Images = append([]string(nil), (*p.Images)...)
	}
	if p.Image != nil {
		out.Image = *p.Image
	}
	if p.ReminderEnabled != nil {
		out.ReminderEnabled = *p.ReminderEnabled
	}
	if p.SubTasks != nil {
		subs, err := mergeSubTasks(q.SubTasks, *p.SubTasks)
		if err != nil {
			return q, 0, err
		}
		out.SubTasks = subs
		if len(subs) > 0 {
			out.IsCompleted = out.AllSubTasksCompleted()
		}
	}
	return out, Earned(out) - Earned(q), nil
}

// mergeSubTasks validates an edited sub-task list. Entries whose id matches an
// existing sub-task keep that sub-task's completion; entries without a known
// id are new and start incomplete.
func mergeSubTasks(existing, edited []SubTask) ([]SubTask, error) {
	done := make(map[string]bool, len(existing))
	for _, st := range existing {
		done[st.ID] = st.IsCompleted
	}
	out := make([]SubTask, 0, len(edited))
	for _, st := range edited {
		t, err := normalizeTitle(st.Title)
		if err != nil {
			return nil, err
		}
		if st.XP < 0 {
			return nil, ErrNegativeXP
		}
		completed, known := done[st.ID]
		if !known {
			st.ID = NewID()
		}
		out = append(out, SubTask{ID: st.ID, Title: t, XP: st.XP, IsCompleted: completed})
	}
	return out, nil
}

// AddSubTask appends a new incomplete sub-task through the edit path.
func AddSubTask(q Quest, title string, xp int) (Quest, SubTask, int, error) {
	st, err := NewSubTask(title, xp)
	if err != nil {
		return q, SubTask{}, 0, err
	}
	subs := append(append([]SubTask(nil), q.SubTasks...), st)
	out, delta, err := Edit(q, Patch{SubTasks: &subs})
	if err != nil {
		return q, SubTask{}, 0, err
	}
	// Unknown ids are reissued by the merge, so read the id back from the result.
	return out, out.SubTasks[len(out.SubTasks)-1], delta, nil
}

// RemoveSubTask deletes a sub-task through the edit path. An unknown id is a no-op.
func RemoveSubTask(q Quest, subTaskID string) (Quest, int, bool) {
	idx := q.subTaskIndex(subTaskID)
	if idx < 0 {
		return q, 0, false
	}
	subs := make([]SubTask, 0, len(q.SubTasks)-1)
	subs = append(subs, q.SubTasks[:idx]...)
	subs = append(subs, q.SubTasks[idx+1:]...)
	out, delta, _ := Edit(q, Patch{SubTasks: &subs})
	return out, delta, true
}
