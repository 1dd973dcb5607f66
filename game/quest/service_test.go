package quest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pixelprogress/server/audit"
	"github.com/pixelprogress/server/cache"
	"github.com/pixelprogress/server/config"
	"github.com/pixelprogress/server/game/ledger"
	"github.com/pixelprogress/server/game/rival"
	"github.com/pixelprogress/server/model"
	"github.com/pixelprogress/server/plugin/hook"
	"github.com/pixelprogress/server/resource"
	"github.com/pixelprogress/server/scheduler"
	"github.com/pixelprogress/server/store"
	"github.com/pixelprogress/server/testutil"
)

type fixedRand int

func (f fixedRand) IntN(n int) int { return int(f) % n }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc    *Service
	clock  *fakeClock
	store  store.Store
	cache  cache.Cache
	pubsub cache.PubSub
	hooks  *hook.HookCenter
	sched  *scheduler.Scheduler
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	c, ps := testutil.SetupTestCache(t)
	cfg := config.Default()
	clock := &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(sched.Stop)

	d := Deps{
		Store:     store.NewCache(c),
		Cache:     c,
		PubSub:    ps,
		Hooks:     hook.NewHookCenter(),
		Scheduler: sched,
		Logger:    zap.NewNop(),
		Quest:     cfg.Quest,
		Rival:     cfg.Rival,
		Now:       clock.Now,
		Rand:      fixedRand(0),
		Loc:       time.UTC,
	}
	d.Rival.UnmountGrace = 0
	d.Rival.DriftMax = 0
	for _, m := range mutate {
		m(&d)
	}
	return &fixture{
		svc:    NewService(d),
		clock:  clock,
		store:  d.Store,
		cache:  c,
		pubsub: ps,
		hooks:  d.Hooks,
		sched:  sched,
	}
}

var ctx = context.Background()

const uid = int64(1)

func (f *fixture) create(t *testing.T, d ledger.Draft) ledger.Quest {
	t.Helper()
	res, err := f.svc.CreateQuest(ctx, uid, d)
	require.NoError(t, err)
	require.True(t, res.Found)
	return *res.Quest
}

func (f *fixture) assertLedgerConsistent(t *testing.T) {
	t.Helper()
	snap, err := f.svc.Snapshot(ctx, uid, false)
	require.NoError(t, err)
	earned, _ := ledger.Totals(snap.Quests)
	assert.Equal(t, earned, snap.XP, "ledger must equal earned XP")
}

func TestSnapshot_NewUserEmpty(t *testing.T) {
	f := newFixture(t)
	snap, err := f.svc.Snapshot(ctx, uid, true)
	require.NoError(t, err)
	assert.Empty(t, snap.Quests)
	assert.Zero(t, snap.XP)
	assert.Zero(t, snap.Progress)
	assert.Equal(t, rival.View{XP: 1100, Rule: rival.RuleHourly, Value: 10}, snap.Rival)
}

func TestSnapshot_SeedsStarterPackOnce(t *testing.T) {
	pack, err := resource.LoadStarter("")
	require.NoError(t, err)
	f := newFixture(t, func(d *Deps) {
		d.Starter = pack
		d.SeedNewUser = true
	})

	snap, err := f.svc.Snapshot(ctx, uid, false)
	require.NoError(t, err)
	require.Len(t, snap.Quests, len(pack.Quests))
	assert.Zero(t, snap.XP)

	again, err := f.svc.Snapshot(ctx, uid, false)
	require.NoError(t, err)
	assert.Equal(t, snap.Quests[0].ID, again.Quests[0].ID)

	// A reset collection is not re-seeded.
	_, err = f.svc.Reset(ctx, uid)
	require.NoError(t, err)
	snap, err = f.svc.Snapshot(ctx, uid, false)
	require.NoError(t, err)
	assert.Empty(t, snap.Quests)
}

func TestCreateQuest_Prepends(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, ledger.Draft{Title: "First", XP: 10})
	b := f.create(t, ledger.Draft{Title: "Second", XP: 20})

	snap, err := f.svc.Snapshot(ctx, uid, false)
	require.NoError(t, err)
	require.Len(t, snap.Quests, 2)
	assert.Equal(t, b.ID, snap.Quests[0].ID)
	assert.Equal(t, a.ID, snap.Quests[1].ID)
	assert.Equal(t, f.clock.Now(), snap.Quests[0].CreatedAt)
}

func TestCreateQuest_Validation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateQuest(ctx, uid, ledger.Draft{Title: "  "})
	assert.ErrorIs(t, err, ErrEmptyTitle)
	_, err = f.svc.CreateQuest(ctx, uid, ledger.Draft{Title: "x", XP: -1})
	assert.ErrorIs(t, err, ErrInvalidXP)
	_, err = f.svc.CreateQuest(ctx, uid, ledger.Draft{Title: "x", Images: make([]string, 9)})
	assert.ErrorIs(t, err, ErrTooManyImages)
}

func TestQuickAdd_DrawsFromRange(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Rand = fixedRand(29) })
	res, err := f.svc.QuickAdd(ctx, uid, "  Walk the dog ")
	require.NoError(t, err)
	assert.Equal(t, "Walk the dog", res.Quest.Title)
	assert.Equal(t, 39, res.Quest.XP)
	assert.False(t, res.Quest.IsCompleted)
	assert.Zero(t, res.Delta)
}

func TestBeforeQuestCreate_Hook(t *testing.T) {
	f := newFixture(t)
	f.hooks.Register(hook.BeforeQuestCreate, 0, "test", func(_ context.Context, _ string, d any) (any, error) {
		qc := d.(*hook.QuestCreate)
		if qc.Title == "forbidden" {
			return d, hook.ErrInterrupt
		}
		qc.XP = 99
		return qc, nil
	})

	_, err := f.svc.QuickAdd(ctx, uid, "forbidden")
	assert.ErrorIs(t, err, ErrVetoed)

	q := f.create(t, ledger.Draft{Title: "allowed", XP: 1})
	assert.Equal(t, 99, q.XP)

	snap, _ := f.svc.Snapshot(ctx, uid, false)
	assert.Len(t, snap.Quests, 1)
}

func TestToggleQuest_WithSubTasks(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, ledger.Draft{Title: "Clean", XP: 20, SubTasks: []ledger.SubTaskDraft{
		{Title: "Kitchen", XP: 5}, {Title: "Bath", XP: 7},
	}})

	res, err := f.svc.ToggleQuest(ctx, uid, q.ID)
	require.NoError(t, err)
	assert.Equal(t, 32, res.Delta)
	assert.Equal(t, 32, res.XP)
	assert.Equal(t, float64(100), res.Progress)
	f.assertLedgerConsistent(t)

	// Un-completing reverses only the quest's own XP.
	res, err = f.svc.ToggleQuest(ctx, uid, q.ID)
	require.NoError(t, err)
	assert.Equal(t, -20, res.Delta)
	assert.Equal(t, 12, res.XP)
	assert.True(t, res.Quest.SubTasks[0].IsCompleted)
	f.assertLedgerConsistent(t)
}

func TestToggleSubTask_CompletesParentAndFiresHook(t *testing.T) {
	f := newFixture(t)
	var completed []hook.QuestCompleted
	f.hooks.Register(hook.OnQuestCompleted, 0, "test", func(_ context.Context, _ string, d any) (any, error) {
		completed = append(completed, d.(hook.QuestCompleted))
		return d, nil
	})

	q := f.create(t, ledger.Draft{Title: "Study", XP: 30, SubTasks: []ledger.SubTaskDraft{
		{Title: "Read", XP: 5}, {Title: "Notes", XP: 5},
	}})

	res, err := f.svc.ToggleSubTask(ctx, uid, q.ID, q.SubTasks[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Delta)
	assert.Empty(t, completed)

	res, err = f.svc.ToggleSubTask(ctx, uid, q.ID, q.SubTasks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, 35, res.Delta)
	assert.True(t, res.Quest.IsCompleted)
	assert.Equal(t, 40, res.XP)
	require.Len(t, completed, 1)
	assert.Equal(t, q.ID, completed[0].QuestID)

	res, err = f.svc.ToggleSubTask(ctx, uid, q.ID, q.SubTasks[1].ID)
	require.NoError(t, err)
	assert.Equal(t, -35, res.Delta)
	f.assertLedgerConsistent(t)
}

func TestUnknownIDs_AreNoOps(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, ledger.Draft{Title: "Only", XP: 10})

	calls := []func() (*Result, error){
		func() (*Result, error) { return f.svc.ToggleQuest(ctx, uid, "missing") },
		func() (*Result, error) { return f.svc.ToggleSubTask(ctx, uid, q.ID, "missing") },
		func() (*Result, error) { return f.svc.ToggleSubTask(ctx, uid, q.ID, "") },
		func() (*Result, error) { return f.svc.DeleteQuest(ctx, uid, "missing") },
		func() (*Result, error) { return f.svc.DeleteSubTask(ctx, uid, q.ID, "missing") },
		func() (*Result, error) { return f.svc.Revive(ctx, uid, "missing") },
		func() (*Result, error) {
			title := "x"
			return f.svc.EditQuest(ctx, uid, "missing", ledger.Patch{Title: &title})
		},
	}
	for i, call := range calls {
		res, err := call()
		require.NoError(t, err, "call %d", i)
		assert.False(t, res.Found, "call %d", i)
		assert.Zero(t, res.XP, "call %d", i)
	}
	snap, _ := f.svc.Snapshot(ctx, uid, false)
	assert.Len(t, snap.Quests, 1)
}

func TestEditQuest_XPChangeOnCompletedQuest(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, ledger.Draft{Title: "Run", XP: 10})
	_, err := f.svc.ToggleQuest(ctx, uid, q.ID)
	require.NoError(t, err)

	xp := 25
	res, err := f.svc.EditQuest(ctx, uid, q.ID, ledger.Patch{XP: &xp})
	require.NoError(t, err)
	assert.Equal(t, 15, res.Delta)
	assert.Equal(t, 25, res.XP)
	f.assertLedgerConsistent(t)

	bad := -3
	_, err = f.svc.EditQuest(ctx, uid, q.ID, ledger.Patch{XP: &bad})
	assert.ErrorIs(t, err, ErrInvalidXP)
}

func TestEditQuest_RenameAfterQuestLevelUncomplete(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, ledger.Draft{Title: "Garden", XP: 20, SubTasks: []ledger.SubTaskDraft{
		{Title: "Weed", XP: 5}, {Title: "Water", XP: 10},
	}})
	res, err := f.svc.ToggleQuest(ctx, uid, q.ID)
	require.NoError(t, err)
	require.Equal(t, 35, res.XP)
	res, err = f.svc.ToggleQuest(ctx, uid, q.ID)
	require.NoError(t, err)
	require.Equal(t, 15, res.XP)

	title := "Backyard"
	res, err = f.svc.EditQuest(ctx, uid, q.ID, ledger.Patch{Title: &title})
	require.NoError(t, err)
	assert.Zero(t, res.Delta)
	assert.Equal(t, 15, res.XP)
	assert.False(t, res.Quest.IsCompleted)
	assert.Equal(t, "Backyard", res.Quest.Title)
	f.assertLedgerConsistent(t)
}

func TestAddAndDeleteSubTask(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, ledger.Draft{Title: "Garden", XP: 20})
	_, err := f.svc.ToggleQuest(ctx, uid, q.ID)
	require.NoError(t, err)

	// Adding an incomplete sub-task reopens the completed parent.
	res, err := f.svc.AddSubTask(ctx, uid, q.ID, "Water plants", nil)
	require.NoError(t, err)
	require.NotNil(t, res.SubTask)
	assert.Equal(t, 5, res.SubTask.XP)
	assert.Equal(t, -20, res.Delta)
	assert.False(t, res.Quest.IsCompleted)
	f.assertLedgerConsistent(t)

	// With no sub-tasks left the quest keeps its current state.
	res, err = f.svc.DeleteSubTask(ctx, uid, q.ID, res.SubTask.ID)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Zero(t, res.Delta)
	assert.Empty(t, res.Quest.SubTasks)
	f.assertLedgerConsistent(t)

	custom := 12
	res, err = f.svc.AddSubTask(ctx, uid, q.ID, "Mow", &custom)
	require.NoError(t, err)
	assert.Equal(t, 12, res.SubTask.XP)
}

func TestDeleteQuest_ClawsBack(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, ledger.Draft{Title: "Lift", XP: 30, SubTasks: []ledger.SubTaskDraft{{Title: "Warmup", XP: 5}}})
	other := f.create(t, ledger.Draft{Title: "Other", XP: 10})
	_, _ = f.svc.ToggleSubTask(ctx, uid, q.ID, q.SubTasks[0].ID)
	_, _ = f.svc.ToggleQuest(ctx, uid, other.ID)

	res, err := f.svc.DeleteQuest(ctx, uid, q.ID)
	require.NoError(t, err)
	assert.Equal(t, -35, res.Delta)
	assert.Equal(t, 10, res.XP)
	f.assertLedgerConsistent(t)
}

func TestReset(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, ledger.Draft{Title: "A", XP: 10})
	_, _ = f.svc.ToggleQuest(ctx, uid, q.ID)

	res, err := f.svc.Reset(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, -10, res.Delta)
	assert.Zero(t, res.XP)

	snap, _ := f.svc.Snapshot(ctx, uid, false)
	assert.Empty(t, snap.Quests)
	assert.Zero(t, snap.XP)
}

func TestRevive(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, ledger.Draft{Title: "Old", XP: 10, DueDate: "2026-03-01"})
	_, _ = f.svc.ToggleQuest(ctx, uid, q.ID)

	res, err := f.svc.Revive(ctx, uid, q.ID)
	require.NoError(t, err)
	assert.NotEqual(t, q.ID, res.Quest.ID)
	assert.Equal(t, "2026-03-14", res.Quest.DueDate)
	assert.False(t, res.Quest.IsCompleted)
	assert.Zero(t, res.Delta)

	snap, _ := f.svc.Snapshot(ctx, uid, false)
	require.Len(t, snap.Quests, 2)
	assert.Equal(t, res.Quest.ID, snap.Quests[0].ID)
}

func TestSnapshot_DisplayOrder(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, ledger.Draft{Title: "A", XP: 1})
	b := f.create(t, ledger.Draft{Title: "B", XP: 1})
	_, _ = f.svc.ToggleQuest(ctx, uid, b.ID)

	snap, _ := f.svc.Snapshot(ctx, uid, true)
	assert.Equal(t, []string{a.ID, b.ID}, []string{snap.Quests[0].ID, snap.Quests[1].ID})
	snap, _ = f.svc.Snapshot(ctx, uid, false)
	assert.Equal(t, []string{b.ID, a.ID}, []string{snap.Quests[0].ID, snap.Quests[1].ID})
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	run := f.create(t, ledger.Draft{Title: "Morning run", XP: 10})
	f.create(t, ledger.Draft{Title: "Read", XP: 30})
	f.create(t, ledger.Draft{Title: "Tomorrow run", XP: 5, DueDate: "2026-03-15"})
	_, _ = f.svc.ToggleQuest(ctx, uid, run.ID)

	h, err := f.svc.History(ctx, uid, "", "")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-14", h.Date)
	assert.Len(t, h.Quests, 2)
	assert.Equal(t, ledger.DaySummary{
		Date: "2026-03-14", Total: 2, Completed: 1, XPEarned: 10, XPPossible: 40, Percent: 25,
	}, h.Summary)

	h, err = f.svc.History(ctx, uid, "2026-03-15", "RUN")
	require.NoError(t, err)
	require.Len(t, h.Quests, 1)
	assert.Equal(t, "Tomorrow run", h.Quests[0].Title)

	h, err = f.svc.History(ctx, uid, "2026-03-20", "")
	require.NoError(t, err)
	assert.NotNil(t, h.Quests)
	assert.Empty(t, h.Quests)

	_, err = f.svc.History(ctx, uid, "14/03/2026", "")
	assert.ErrorIs(t, err, ErrInvalidDate)
}

func TestMalformedState_FallsBackToDefaults(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Save(ctx, store.Key(uid, store.ListQuests), []byte("{not json")))
	require.NoError(t, f.store.Save(ctx, store.Key(uid, store.ListRival), []byte(`"oops"`)))

	snap, err := f.svc.Snapshot(ctx, uid, false)
	require.NoError(t, err)
	assert.Empty(t, snap.Quests)
	assert.Equal(t, 1100, snap.Rival.XP)
}

func TestLostLedger_RebuiltFromQuests(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, ledger.Draft{Title: "A", XP: 15})
	_, _ = f.svc.ToggleQuest(ctx, uid, q.ID)
	require.NoError(t, f.store.Delete(ctx, store.Key(uid, store.ListXP)))

	snap, err := f.svc.Snapshot(ctx, uid, false)
	require.NoError(t, err)
	assert.Equal(t, 15, snap.XP)
}

func TestSideEffects_RankingActivityEvents(t *testing.T) {
	f := newFixture(t)
	msgs, cancel, err := f.pubsub.Subscribe(ctx, UserChannel(uid))
	require.NoError(t, err)
	defer cancel()

	var changes []hook.XPChanged
	f.hooks.Register(hook.OnXPChanged, 0, "test", func(_ context.Context, _ string, d any) (any, error) {
		changes = append(changes, d.(hook.XPChanged))
		return d, nil
	})

	q := f.create(t, ledger.Draft{Title: "Ship it", XP: 40})
	_, err = f.svc.ToggleQuest(ctx, uid, q.ID)
	require.NoError(t, err)

	score, err := f.cache.ZScore(ctx, RankingKey, "1")
	require.NoError(t, err)
	assert.Equal(t, float64(40), score)

	acts, err := f.svc.Activity(ctx, uid, 10)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.Equal(t, audit.ActionQuestToggle, acts[0].Action)
	assert.Equal(t, 40, acts[0].Delta)
	assert.Equal(t, "Ship it", acts[0].Title)
	assert.Equal(t, audit.ActionQuestCreate, acts[1].Action)

	require.Len(t, changes, 1)
	assert.Equal(t, hook.XPChanged{UserID: uid, Delta: 40, Total: 40, Reason: audit.ActionQuestToggle}, changes[0])

	var events []Event
	for len(events) < 2 {
		select {
		case m := <-msgs:
			var ev Event
			require.NoError(t, json.Unmarshal([]byte(m.Payload), &ev))
			events = append(events, ev)
		case <-time.After(time.Second):
			t.Fatal("expected quest events")
		}
	}
	assert.Equal(t, EventQuests, events[1].Type)
	assert.Equal(t, 40, events[1].XP)
	assert.Equal(t, float64(100), events[1].Progress)
}

func TestActivity_Trimmed(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Quest.ActivityLogSize = 3 })
	for i := 0; i < 5; i++ {
		f.create(t, ledger.Draft{Title: "q", XP: 1})
	}
	acts, err := f.svc.Activity(ctx, uid, 0)
	require.NoError(t, err)
	assert.Len(t, acts, 3)
}

func TestAudit_Recorded(t *testing.T) {
	db := testutil.SetupTestDB(t)
	auditSvc := audit.New(db, zap.NewNop())
	f := newFixture(t, func(d *Deps) { d.Audit = auditSvc })

	actx := audit.WithMeta(ctx, audit.Meta{TraceID: "trace-1", IP: "10.0.0.9"})
	res, err := f.svc.QuickAdd(actx, uid, "Audit me")
	require.NoError(t, err)
	_, err = f.svc.ToggleQuest(actx, uid, res.Quest.ID)
	require.NoError(t, err)
	auditSvc.Stop(ctx)

	var logs []model.AuditLog
	require.NoError(t, db.Order("id").Find(&logs).Error)
	require.Len(t, logs, 2)
	assert.Equal(t, audit.ActionQuestQuickAdd, logs[0].Action)
	assert.Equal(t, audit.ActionQuestToggle, logs[1].Action)
	assert.Equal(t, res.Quest.XP, logs[1].XPDelta)
	assert.Equal(t, "trace-1", logs[1].TraceID)
	assert.Equal(t, "10.0.0.9", logs[1].IP)
	assert.Equal(t, res.Quest.ID, logs[1].QuestID)
}

func TestDBStoreBackend(t *testing.T) {
	db := testutil.SetupTestDB(t)
	f := newFixture(t, func(d *Deps) { d.Store = store.NewDB(db) })
	q := f.create(t, ledger.Draft{Title: "Persisted", XP: 10})
	_, err := f.svc.ToggleQuest(ctx, uid, q.ID)
	require.NoError(t, err)

	// A second service over the same store sees the same state.
	other := NewService(Deps{Store: store.NewDB(db), Loc: time.UTC})
	snap, err := other.Snapshot(ctx, uid, false)
	require.NoError(t, err)
	require.Len(t, snap.Quests, 1)
	assert.Equal(t, 10, snap.XP)
}

func TestUsersAreIsolated(t *testing.T) {
	f := newFixture(t)
	q := f.create(t, ledger.Draft{Title: "Mine", XP: 10})
	_, _ = f.svc.ToggleQuest(ctx, uid, q.ID)

	snap, err := f.svc.Snapshot(ctx, 2, false)
	require.NoError(t, err)
	assert.Empty(t, snap.Quests)
	assert.Zero(t, snap.XP)

	res, err := f.svc.ToggleQuest(ctx, 2, q.ID)
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestConcurrentToggles_KeepLedgerConsistent(t *testing.T) {
	f := newFixture(t)
	var ids []string
	for i := 0; i < 8; i++ {
		ids = append(ids, f.create(t, ledger.Draft{Title: "q", XP: i + 1}).ID)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		for n := 0; n < 3; n++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.ToggleQuest(ctx, uid, id)
				assert.NoError(t, err)
			}()
		}
	}
	wg.Wait()
	f.assertLedgerConsistent(t)
}
