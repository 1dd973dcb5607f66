package model_test

import (
	"testing"

	"github.com/pixelprogress/server/model"
	"github.com/pixelprogress/server/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func TestAutoMigrate_InsertAndQuery(t *testing.T) {
	db := testutil.SetupTestDB(t)

	acc := &model.Account{Username: "test_user", PasswordHash: "hash", Status: model.AccountActive}
	require.NoError(t, db.Create(acc).Error)
	assert.Greater(t, acc.ID, int64(0))

	var found model.Account
	require.NoError(t, db.First(&found, acc.ID).Error)
	assert.Equal(t, "test_user", found.Username)
	assert.False(t, found.Banned())

	kv := &model.KVEntry{Key: "user:1:xp", Value: datatypes.JSON(`35`)}
	require.NoError(t, db.Create(kv).Error)
	var gotKV model.KVEntry
	require.NoError(t, db.First(&gotKV, "kv_key = ?", "user:1:xp").Error)
	assert.JSONEq(t, `35`, string(gotKV.Value))

	uid := acc.ID
	al := &model.AuditLog{TraceID: "trace-001", UserID: &uid, Action: "quest_toggle", XPDelta: 20}
	require.NoError(t, db.Create(al).Error)
	assert.Greater(t, al.ID, int64(0))
}

func TestAutoMigrate_Idempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	require.NoError(t, model.AutoMigrate(db))
	assert.True(t, db.Migrator().HasTable(&model.KVEntry{}))
	assert.True(t, db.Migrator().HasTable("kv_entries"))
}
