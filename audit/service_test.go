package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pixelprogress/server/model"
	"github.com/pixelprogress/server/testutil"
)

func TestNew_StartsWorker(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())
	require.NotNil(t, svc)
	svc.Stop(context.Background())
}

func TestLog_EnqueuedAndFlushed(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	uid := int64(7)
	svc.Log(AuditEntry{
		TraceID:    "trace-123",
		UserID:     &uid,
		QuestID:    "q-1",
		Action:     ActionQuestToggle,
		XPDelta:    25,
		Request:    map[string]string{"quest_id": "q-1"},
		Response:   map[string]int{"xp": 25},
		IP:         "127.0.0.1",
		DurationMs: 3,
	})

	svc.Stop(context.Background())

	var logs []model.AuditLog
	require.NoError(t, db.Find(&logs).Error)
	require.Len(t, logs, 1)
	assert.Equal(t, "trace-123", logs[0].TraceID)
	require.NotNil(t, logs[0].UserID)
	assert.Equal(t, uid, *logs[0].UserID)
	assert.Equal(t, "q-1", logs[0].QuestID)
	assert.Equal(t, ActionQuestToggle, logs[0].Action)
	assert.Equal(t, 25, logs[0].XPDelta)
	assert.JSONEq(t, `{"xp":25}`, string(logs[0].Response))
}

func TestLog_BatchFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	for i := 0; i < 250; i++ {
		svc.Log(AuditEntry{Action: "batch"})
	}
	svc.Stop(context.Background())

	var count int64
	db.Model(&model.AuditLog{}).Count(&count)
	assert.Equal(t, int64(250), count)
}

func TestLog_TimerFlush(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())
	defer svc.Stop(context.Background())

	svc.Log(AuditEntry{Action: "timer_test"})

	assert.Eventually(t, func() bool {
		var count int64
		db.Model(&model.AuditLog{}).Count(&count)
		return count == 1
	}, 4*time.Second, 100*time.Millisecond)
}

func TestLog_NilFields(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	svc.Log(AuditEntry{Action: ActionReset})
	svc.Stop(context.Background())

	var logs []model.AuditLog
	db.Find(&logs)
	require.Len(t, logs, 1)
	assert.Nil(t, logs[0].UserID)
	assert.Empty(t, logs[0].Request)
}

func TestRecent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	a, b := int64(1), int64(2)
	svc.Log(AuditEntry{UserID: &a, Action: ActionQuestCreate})
	svc.Log(AuditEntry{UserID: &b, Action: ActionQuestCreate})
	svc.Log(AuditEntry{UserID: &a, Action: ActionQuestDelete})
	svc.Stop(context.Background())

	logs, err := svc.Recent(context.Background(), a, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, ActionQuestDelete, logs[0].Action)
	assert.Equal(t, ActionQuestCreate, logs[1].Action)
}

func TestStop_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())
	svc.Stop(context.Background())
	svc.Stop(context.Background())
}

func TestLog_DropsWhenFull(t *testing.T) {
	db := testutil.SetupTestDB(t)
	svc := New(db, zap.NewNop())

	for i := 0; i < queueSize+10; i++ {
		svc.Log(AuditEntry{Action: "flood"})
	}
	svc.Stop(context.Background())
}

func TestMeta(t *testing.T) {
	assert.Equal(t, Meta{}, MetaFrom(context.Background()))
	ctx := WithMeta(context.Background(), Meta{TraceID: "t", IP: "10.0.0.1"})
	assert.Equal(t, Meta{TraceID: "t", IP: "10.0.0.1"}, MetaFrom(ctx))
}
