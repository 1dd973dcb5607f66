package ledger

// Earned is the XP a single quest currently contributes to the ledger: its
// own XP when complete plus each completed sub-task, independent of the parent.
func Earned(q Quest) int {
	total := 0
	if q.IsCompleted {
		total += q.XP
	}
	for _, st := range q.SubTasks {
		if st.IsCompleted {
			total += st.XP
		}
	}
	return total
}

// Possible is the XP a quest is worth when fully complete.
func Possible(q Quest) int {
	total := q.XP
	for _, st := range q.SubTasks {
		total += st.XP
	}
	return total
}

// Totals returns earned and possible XP across a collection.
func Totals(quests []Quest) (earned, possible int) {
	for _, q := range quests {
		earned += Earned(q)
		possible += Possible(q)
	}
	return earned, possible
}

// Aggregate returns the completion percentage (0–100) of a collection.
// An empty or zero-XP collection is 0. The value is not rounded.
func Aggregate(quests []Quest) float64 {
	earned, possible := Totals(quests)
	if possible <= 0 {
		return 0
	}
	return float64(earned) / float64(possible) * 100
}
