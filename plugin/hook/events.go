package hook

// QuestCreate is the payload of BeforeQuestCreate. Handlers may edit Title and XP.
type QuestCreate struct {
	UserID   int64  `json:"user_id"`
	Title    string `json:"title"`
	XP       int    `json:"xp"`
	QuickAdd bool   `json:"quick_add"`
}

type QuestCompleted struct {
	UserID  int64  `json:"user_id"`
	QuestID string `json:"quest_id"`
	Title   string `json:"title"`
	XP      int    `json:"xp"`
}

type XPChanged struct {
	UserID int64  `json:"user_id"`
	Delta  int    `json:"delta"`
	Total  int    `json:"total"`
	Reason string `json:"reason"`
}

type RivalGain struct {
	UserID int64  `json:"user_id"`
	Gain   int    `json:"gain"`
	XP     int    `json:"xp"`
	Rule   string `json:"rule"`
}

type UserLogin struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	IP     string `json:"ip"`
	New    bool   `json:"new"`
}
