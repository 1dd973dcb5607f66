// Package quest owns every user's quest collection, XP ledger, rival and
// profile. All mutations go through Service, which serializes them per user,
// persists through the store port and fans out side effects.
package quest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pixelprogress/server/audit"
	"github.com/pixelprogress/server/cache"
	"github.com/pixelprogress/server/config"
	"github.com/pixelprogress/server/game/ledger"
	"github.com/pixelprogress/server/game/rival"
	"github.com/pixelprogress/server/plugin/hook"
	"github.com/pixelprogress/server/resource"
	"github.com/pixelprogress/server/scheduler"
	"github.com/pixelprogress/server/store"
)

var (
	ErrEmptyTitle      = ledger.ErrEmptyTitle
	ErrInvalidXP       = ledger.ErrNegativeXP
	ErrInvalidDueDate  = ledger.ErrInvalidDueDate
	ErrInvalidRule     = rival.ErrUnknownRule
	ErrInvalidValue    = rival.ErrInvalidValue
	ErrTooManyImages   = errors.New("quest: too many images")
	ErrInvalidAvatar   = errors.New("quest: avatar must be an image data URI")
	ErrVetoed          = errors.New("quest: rejected by hook")
	ErrInvalidDate     = errors.New("quest: date must be YYYY-MM-DD")
	ErrProfileTooLarge = errors.New("quest: profile field too long")
)

// Cache keys and channels shared with the API layer.
const (
	RankingKey      = "ranking:xp"
	AnnounceChannel = "announce"
)

func UserChannel(userID int64) string { return "user:" + strconv.FormatInt(userID, 10) }
func activityKey(userID int64) string { return "activity:" + strconv.FormatInt(userID, 10) }
func rivalTask(userID int64) string   { return "rival:" + strconv.FormatInt(userID, 10) }
func rivalLock(userID int64) string   { return "lock:rival:" + strconv.FormatInt(userID, 10) }

// Deps are the collaborators of a Service. Audit, Hooks, Starter and
// Scheduler may be nil.
type Deps struct {
	Store     store.Store
	Cache     cache.Cache
	PubSub    cache.PubSub
	Hooks     *hook.HookCenter
	Audit     *audit.Service
	Scheduler *scheduler.Scheduler
	Starter   *resource.StarterPack
	Logger    *zap.Logger

	Quest       config.QuestConfig
	Rival       config.RivalConfig
	SeedNewUser bool

	// Test seams. Zero values use the wall clock, math/rand/v2 and time.Local.
	Now  func() time.Time
	Rand ledger.Rand
	Loc  *time.Location
}

// Service handles all quest, ledger and rival operations.
type Service struct {
	store   store.Store
	cache   cache.Cache
	pubsub  cache.PubSub
	hooks   *hook.HookCenter
	audit   *audit.Service
	sched   *scheduler.Scheduler
	starter *resource.StarterPack
	logger  *zap.Logger

	qcfg config.QuestConfig
	rcfg config.RivalConfig
	seed bool

	now   func() time.Time
	rnd   ledger.Rand
	loc   *time.Location
	xpMin ledger.XPRange

	locks sync.Map // user id → *sync.Mutex

	mountMu sync.Mutex
	mounts  map[int64]int
}

type defaultRand struct{}

func (defaultRand) IntN(n int) int { return rand.IntN(n) }

// NewService creates a quest Service.
func NewService(d Deps) *Service {
	svc := &Service{
		store:   d.Store,
		cache:   d.Cache,
		pubsub:  d.PubSub,
		hooks:   d.Hooks,
		audit:   d.Audit,
		sched:   d.Scheduler,
		starter: d.Starter,
		logger:  d.Logger,
		qcfg:    d.Quest,
		rcfg:    d.Rival,
		seed:    d.SeedNewUser,
		now:     d.Now,
		rnd:     d.Rand,
		loc:     d.Loc,
		xpMin:   ledger.XPRange{Min: d.Quest.QuickAddMinXP, Max: d.Quest.QuickAddMaxXP},
		mounts:  make(map[int64]int),
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.rnd == nil {
		svc.rnd = defaultRand{}
	}
	if svc.loc == nil {
		svc.loc = time.Local
	}
	if svc.xpMin.Min == 0 && svc.xpMin.Max == 0 {
		svc.xpMin = ledger.DefaultQuickAddRange
	}
	if svc.hooks == nil {
		svc.hooks = hook.NewHookCenter()
	}
	return svc
}

func (svc *Service) lock(userID int64) func() {
	v, _ := svc.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (svc *Service) today() string {
	return svc.now().In(svc.loc).Format(ledger.DateLayout)
}

// ---- persistence ----

// loadDoc decodes the document at key into out. It reports false when the
// document is absent or malformed, leaving out untouched.
func (svc *Service) loadDoc(ctx context.Context, userID int64, list string, out any) (bool, error) {
	key := store.Key(userID, list)
	raw, err := svc.store.Load(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		svc.logger.Warn("malformed persisted state, using defaults",
			zap.String("key", key), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func (svc *Service) saveDoc(ctx context.Context, userID int64, list string, v any) error {
	key := store.Key(userID, list)
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := svc.store.Save(ctx, key, raw); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// state is one user's full document set.
type state struct {
	quests []ledger.Quest
	xp     int
}

// loadState reads quests and the XP ledger. A user with no collection yet is
// given the starter pack when seeding is enabled.
func (svc *Service) loadState(ctx context.Context, userID int64, seed bool) (*state, error) {
	st := &state{}
	found, err := svc.loadDoc(ctx, userID, store.ListQuests, &st.quests)
	if err != nil {
		return nil, err
	}
	if !found {
		st.quests = nil
		if seed && svc.seed && svc.starter != nil {
			quests, err := svc.starter.Build(svc.now(), svc.loc)
			if err != nil {
				return nil, fmt.Errorf("build starter quests: %w", err)
			}
			st.quests = quests
			if err := svc.saveDoc(ctx, userID, store.ListQuests, st.quests); err != nil {
				return nil, err
			}
			svc.logger.Info("seeded starter quests",
				zap.Int64("user_id", userID), zap.Int("count", len(quests)))
		}
	}
	if st.quests == nil {
		st.quests = []ledger.Quest{}
	}

	hasXP, err := svc.loadDoc(ctx, userID, store.ListXP, &st.xp)
	if err != nil {
		return nil, err
	}
	if !hasXP {
		// Rebuild a lost ledger from the collection.
		st.xp, _ = ledger.Totals(st.quests)
	}
	return st, nil
}

func (svc *Service) saveState(ctx context.Context, userID int64, st *state) error {
	if err := svc.saveDoc(ctx, userID, store.ListQuests, st.quests); err != nil {
		return err
	}
	return svc.saveDoc(ctx, userID, store.ListXP, st.xp)
}

// ---- views ----

// Snapshot is the full dashboard state of a user.
type Snapshot struct {
	Quests   []ledger.Quest `json:"quests"`
	XP       int            `json:"xp"`
	Progress float64        `json:"progress"`
	Rival    rival.View     `json:"rival"`
}

// Snapshot returns the user's quests, XP, progress and rival. When display is
// true quests are ordered incomplete first.
func (svc *Service) Snapshot(ctx context.Context, userID int64, display bool) (*Snapshot, error) {
	defer svc.lock(userID)()
	st, err := svc.loadState(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	rv, err := svc.loadRival(ctx, userID)
	if err != nil {
		return nil, err
	}
	quests := st.quests
	if display {
		quests = ledger.SortForDisplay(quests)
	}
	return &Snapshot{
		Quests:   quests,
		XP:       st.xp,
		Progress: ledger.Aggregate(st.quests),
		Rival:    rv.View(),
	}, nil
}

// Progress returns the completion percentage of the user's collection.
func (svc *Service) Progress(ctx context.Context, userID int64) (float64, error) {
	defer svc.lock(userID)()
	st, err := svc.loadState(ctx, userID, true)
	if err != nil {
		return 0, err
	}
	return ledger.Aggregate(st.quests), nil
}

// History is the quests of one day plus its summary.
type History struct {
	Date    string            `json:"date"`
	Query   string            `json:"query,omitempty"`
	Quests  []ledger.Quest    `json:"quests"`
	Summary ledger.DaySummary `json:"summary"`
}

// History returns the quests belonging to date (today when empty), filtered
// by query.
func (svc *Service) History(ctx context.Context, userID int64, date, query string) (*History, error) {
	if date == "" {
		date = svc.today()
	} else if _, err := time.Parse(ledger.DateLayout, date); err != nil {
		return nil, ErrInvalidDate
	}
	defer svc.lock(userID)()
	st, err := svc.loadState(ctx, userID, true)
	if err != nil {
		return nil, err
	}
	quests := ledger.OnDay(st.quests, date, svc.loc)
	if query != "" {
		quests = ledger.Search(quests, query)
	}
	if quests == nil {
		quests = []ledger.Quest{}
	}
	return &History{
		Date:    date,
		Query:   query,
		Quests:  quests,
		Summary: ledger.Summarize(st.quests, date, svc.loc),
	}, nil
}
