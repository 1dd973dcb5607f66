package quest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pixelprogress/server/audit"
	"github.com/pixelprogress/server/game/rival"
	"github.com/pixelprogress/server/plugin/hook"
	"github.com/pixelprogress/server/store"
)

func (svc *Service) defaultRival() rival.State {
	return rival.New(svc.rcfg.InitialXP, svc.rcfg.DefaultRule, svc.rcfg.DefaultValue)
}

func (svc *Service) loadRival(ctx context.Context, userID int64) (rival.State, error) {
	var st rival.State
	found, err := svc.loadDoc(ctx, userID, store.ListRival, &st)
	if err != nil {
		return rival.State{}, err
	}
	if !found {
		return svc.defaultRival(), nil
	}
	if _, err := rival.ParseRule(string(st.Rule)); err != nil {
		svc.logger.Warn("unknown persisted rival rule, using default",
			zap.Int64("user_id", userID), zap.String("rule", string(st.Rule)))
		def := svc.defaultRival()
		st.Rule, st.Value = def.Rule, def.Value
	}
	return st, nil
}

func (svc *Service) engine() rival.Engine {
	return rival.Engine{
		HourlyPeriod: svc.rcfg.HourlyPeriod,
		DriftMax:     svc.rcfg.DriftMax,
		Rand:         svc.rnd,
		Loc:          svc.loc,
	}
}

// Rival returns the user's rival.
func (svc *Service) Rival(ctx context.Context, userID int64) (rival.View, error) {
	defer svc.lock(userID)()
	st, err := svc.loadRival(ctx, userID)
	if err != nil {
		return rival.View{}, err
	}
	return st.View(), nil
}

// ConfigureRival changes the gain rule and value.
func (svc *Service) ConfigureRival(ctx context.Context, userID int64, rule string, value int) (rival.View, error) {
	kind, err := rival.ParseRule(rule)
	if err != nil {
		return rival.View{}, ErrInvalidRule
	}
	started := time.Now()
	unlock := svc.lock(userID)
	st, err := svc.loadRival(ctx, userID)
	if err != nil {
		unlock()
		return rival.View{}, err
	}
	st, err = st.Configure(kind, value, svc.now(), svc.loc)
	if err != nil {
		unlock()
		return rival.View{}, err
	}
	if err := svc.saveDoc(ctx, userID, store.ListRival, st); err != nil {
		unlock()
		return rival.View{}, err
	}
	unlock()

	view := st.View()
	svc.publish(ctx, userID, Event{Type: EventRival, Action: audit.ActionRivalConfigure, XP: st.XP, Rival: &view, At: svc.now()})
	svc.recordAudit(ctx, userID, change{
		action:  audit.ActionRivalConfigure,
		request: map[string]any{"rule": rule, "value": value},
	}, st.XP, started)
	return view, nil
}

// RivalTick evaluates the rival's rules once and returns what was gained.
func (svc *Service) RivalTick(ctx context.Context, userID int64) (rival.Gain, rival.View, error) {
	unlock := svc.lock(userID)
	qs, err := svc.loadState(ctx, userID, false)
	if err != nil {
		unlock()
		return rival.Gain{}, rival.View{}, err
	}
	st, err := svc.loadRival(ctx, userID)
	if err != nil {
		unlock()
		return rival.Gain{}, rival.View{}, err
	}
	st, gain := svc.engine().Tick(st, qs.quests, svc.now())
	if err := svc.saveDoc(ctx, userID, store.ListRival, st); err != nil {
		unlock()
		return rival.Gain{}, rival.View{}, err
	}
	unlock()

	view := st.View()
	if gain.Total() > 0 {
		svc.publish(ctx, userID, Event{Type: EventRival, Delta: gain.Total(), XP: st.XP, Rival: &view, At: svc.now()})
		_, _ = svc.hooks.Trigger(ctx, hook.OnRivalGain, hook.RivalGain{
			UserID: userID, Gain: gain.Total(), XP: st.XP, Rule: string(st.Rule),
		})
	}
	return gain, view, nil
}

// scheduledTick is the ticker body. With a shared Redis cache only one
// instance ticks a given user per interval.
func (svc *Service) scheduledTick(ctx context.Context, userID int64) {
	if svc.cache != nil {
		ttl := svc.tickInterval() * 9 / 10
		ok, err := svc.cache.SetNX(ctx, rivalLock(userID), "1", ttl)
		if err != nil {
			svc.logger.Warn("rival tick lock failed", zap.Int64("user_id", userID), zap.Error(err))
			return
		}
		if !ok {
			return
		}
	}
	gain, _, err := svc.RivalTick(ctx, userID)
	if err != nil {
		svc.logger.Error("rival tick failed", zap.Int64("user_id", userID), zap.Error(err))
		return
	}
	if gain.Rule > 0 {
		svc.logger.Debug("rival gained xp",
			zap.Int64("user_id", userID),
			zap.Int("rule", gain.Rule),
			zap.Int("drift", gain.Drift))
	}
}

func (svc *Service) tickInterval() time.Duration {
	if svc.rcfg.TickInterval > 0 {
		return svc.rcfg.TickInterval
	}
	return 7 * time.Second
}

// MountRival starts the rival ticking for a user. Mounts are counted; the
// first one resets the rule anchors so time spent unwatched is not
// backfilled.
func (svc *Service) MountRival(ctx context.Context, userID int64) error {
	svc.mountMu.Lock()
	defer svc.mountMu.Unlock()

	svc.mounts[userID]++
	if svc.mounts[userID] > 1 {
		return nil
	}
	task := rivalTask(userID)
	if svc.sched != nil {
		// A reconnect inside the grace window keeps the running ticker.
		if svc.sched.Has(task + ":unmount") {
			svc.sched.Remove(task + ":unmount")
			if svc.sched.Has(task) {
				return nil
			}
		}
	}

	unlock := svc.lock(userID)
	st, err := svc.loadRival(ctx, userID)
	if err == nil {
		err = svc.saveDoc(ctx, userID, store.ListRival, st.Mount(svc.now()))
	}
	unlock()
	if err != nil {
		svc.mounts[userID]--
		if svc.mounts[userID] == 0 {
			delete(svc.mounts, userID)
		}
		return err
	}

	if svc.sched != nil {
		svc.sched.AddTicker(task, svc.tickInterval(), func(ctx context.Context) {
			svc.scheduledTick(ctx, userID)
		})
	}
	svc.logger.Info("rival mounted", zap.Int64("user_id", userID))
	return nil
}

// UnmountRival releases one mount. When the last one goes, the ticker stops
// after the configured grace period.
func (svc *Service) UnmountRival(userID int64) {
	svc.mountMu.Lock()
	defer svc.mountMu.Unlock()

	n, ok := svc.mounts[userID]
	if !ok {
		return
	}
	if n > 1 {
		svc.mounts[userID] = n - 1
		return
	}
	delete(svc.mounts, userID)
	if svc.sched == nil {
		return
	}
	task := rivalTask(userID)
	if svc.rcfg.UnmountGrace <= 0 {
		svc.sched.Remove(task)
		svc.logger.Info("rival unmounted", zap.Int64("user_id", userID))
		return
	}
	svc.sched.AddDelay(task+":unmount", svc.rcfg.UnmountGrace, func(context.Context) {
		svc.mountMu.Lock()
		defer svc.mountMu.Unlock()
		if svc.mounts[userID] == 0 {
			svc.sched.Remove(task)
			svc.logger.Info("rival unmounted", zap.Int64("user_id", userID))
		}
	})
}

// Mounts returns the mount count of a user.
func (svc *Service) Mounts(userID int64) int {
	svc.mountMu.Lock()
	defer svc.mountMu.Unlock()
	return svc.mounts[userID]
}
