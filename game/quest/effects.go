package quest

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/pixelprogress/server/audit"
	"github.com/pixelprogress/server/game/ledger"
	"github.com/pixelprogress/server/game/rival"
	"github.com/pixelprogress/server/plugin/hook"
)

// Event types published on a user's channel.
const (
	EventQuests  = "quests"
	EventRival   = "rival"
	EventProfile = "profile"
	EventReset   = "reset"
)

// Event is the payload published on UserChannel after a change.
type Event struct {
	Type     string      `json:"type"`
	Action   string      `json:"action,omitempty"`
	QuestID  string      `json:"quest_id,omitempty"`
	Delta    int         `json:"delta,omitempty"`
	XP       int         `json:"xp"`
	Progress float64     `json:"progress"`
	Rival    *rival.View `json:"rival,omitempty"`
	At       time.Time   `json:"at"`
}

// Activity is one entry of the recent activity feed.
type Activity struct {
	Action  string    `json:"action"`
	QuestID string    `json:"quest_id,omitempty"`
	Title   string    `json:"title,omitempty"`
	Delta   int       `json:"delta"`
	XP      int       `json:"xp"`
	At      time.Time `json:"at"`
}

// change describes what a mutation did, for the side-effect fan-out.
type change struct {
	action  string
	quest   *ledger.Quest
	subTask *ledger.SubTask
	questID string
	delta   int
	request any
	// completed lists quests that turned complete during the mutation.
	completed []ledger.Quest
}

// emit runs every side effect of a committed mutation. Failures are logged;
// the mutation itself has already been persisted.
func (svc *Service) emit(ctx context.Context, userID int64, st *state, ch change, started time.Time) {
	now := svc.now()
	progress := ledger.Aggregate(st.quests)

	title := ""
	if ch.quest != nil {
		title = ch.quest.Title
		if ch.questID == "" {
			ch.questID = ch.quest.ID
		}
	}

	svc.updateRanking(ctx, userID, st.xp)
	svc.pushActivity(ctx, userID, Activity{
		Action:  ch.action,
		QuestID: ch.questID,
		Title:   title,
		Delta:   ch.delta,
		XP:      st.xp,
		At:      now,
	})

	evType := EventQuests
	if ch.action == audit.ActionReset {
		evType = EventReset
	}
	svc.publish(ctx, userID, Event{
		Type:     evType,
		Action:   ch.action,
		QuestID:  ch.questID,
		Delta:    ch.delta,
		XP:       st.xp,
		Progress: progress,
		At:       now,
	})

	for _, q := range ch.completed {
		_, _ = svc.hooks.Trigger(ctx, hook.OnQuestCompleted, hook.QuestCompleted{
			UserID: userID, QuestID: q.ID, Title: q.Title, XP: q.XP,
		})
	}
	if ch.delta != 0 {
		_, _ = svc.hooks.Trigger(ctx, hook.OnXPChanged, hook.XPChanged{
			UserID: userID, Delta: ch.delta, Total: st.xp, Reason: ch.action,
		})
	}

	svc.recordAudit(ctx, userID, ch, st.xp, started)
}

func (svc *Service) recordAudit(ctx context.Context, userID int64, ch change, xp int, started time.Time) {
	if svc.audit == nil {
		return
	}
	meta := audit.MetaFrom(ctx)
	uid := userID
	svc.audit.Log(audit.AuditEntry{
		TraceID:    meta.TraceID,
		UserID:     &uid,
		QuestID:    ch.questID,
		Action:     ch.action,
		XPDelta:    ch.delta,
		Request:    ch.request,
		Response:   map[string]int{"xp": xp},
		IP:         meta.IP,
		DurationMs: int(time.Since(started).Milliseconds()),
	})
}

func (svc *Service) updateRanking(ctx context.Context, userID int64, xp int) {
	if svc.cache == nil {
		return
	}
	if err := svc.cache.ZAdd(ctx, RankingKey, float64(xp), strconv.FormatInt(userID, 10)); err != nil {
		svc.logger.Warn("ranking update failed", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (svc *Service) pushActivity(ctx context.Context, userID int64, a Activity) {
	if svc.cache == nil {
		return
	}
	raw, _ := json.Marshal(a)
	key := activityKey(userID)
	if err := svc.cache.LPush(ctx, key, string(raw)); err != nil {
		svc.logger.Warn("activity push failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	_ = svc.cache.LTrim(ctx, key, 0, int64(svc.activityCap()-1))
}

func (svc *Service) publish(ctx context.Context, userID int64, ev Event) {
	if svc.pubsub == nil {
		return
	}
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := svc.pubsub.Publish(ctx, UserChannel(userID), string(raw)); err != nil {
		svc.logger.Warn("publish failed",
			zap.Int64("user_id", userID),
			zap.String("type", ev.Type),
			zap.Error(err))
	}
}

// Activity returns up to limit recent activity entries, newest first.
func (svc *Service) Activity(ctx context.Context, userID int64, limit int) ([]Activity, error) {
	out := []Activity{}
	if svc.cache == nil {
		return out, nil
	}
	if limit <= 0 || limit > svc.activityCap() {
		limit = svc.activityCap()
	}
	items, err := svc.cache.LRange(ctx, activityKey(userID), 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	for _, raw := range items {
		var a Activity
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (svc *Service) activityCap() int {
	if svc.qcfg.ActivityLogSize > 0 {
		return svc.qcfg.ActivityLogSize
	}
	return 50
}
