package revert_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edutrail/data/db"
	"edutrail/domain/audited"
	"edutrail/errors"
	"edutrail/history"
	"edutrail/internal/testenv"
	"edutrail/revert"
	"edutrail/snapshot"
	"edutrail/versionlog"
)

func newEngine(env *testenv.Env, opts revert.Options) *revert.Engine {
	rec := history.New(env.DB, env.Registry, env.Versions, env.Entities, history.Options{})
	return revert.NewEngine(env.Service, env.Versions, rec, opts)
}

func appendRaw(t *testing.T, env *testenv.Env, in versionlog.AppendInput) *versionlog.Version {
	t.Helper()
	var v *versionlog.Version
	err := db.InTx(context.Background(), env.DB, func(tx db.IDatabase) error {
		var err error
		v, err = env.Versions.Append(context.Background(), tx, in)
		return err
	})
	require.NoError(t, err)
	return v
}

func createAndRename(t *testing.T, env *testenv.Env) *audited.Record {
	t.Helper()
	ctx := context.Background()
	rec, err := env.Service.Create(ctx, audited.TypeBookSection, testenv.BookSection("Intro"))
	require.NoError(t, err)
	_, err = env.Service.Update(ctx, audited.TypeBookSection, rec.ID, 1, snapshot.Fields{"heading": "Overview"})
	require.NoError(t, err)
	return rec
}

func TestRevert_RollbackUpdate(t *testing.T) {
	env := testenv.New(t)
	ctx := audited.WithActor(context.Background(), "admin")
	rec := createAndRename(t, env)
	engine := newEngine(env, revert.Options{})

	target := env.History(t, audited.TypeBookSection, rec.ID)[1]
	res, err := engine.Revert(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, revert.ActionRollback, res.Action)
	assert.Equal(t, "Intro", res.Record.Fields["heading"])
	assert.Equal(t, int64(3), res.Record.LockVersion)

	history := env.History(t, audited.TypeBookSection, rec.ID)
	require.Len(t, history, 3)
	assert.Equal(t, versionlog.EventUpdated, history[2].Event)
	assert.Equal(t, res.Recorded.ID, history[2].ID)
	assert.Equal(t, "admin", history[2].ActorOrEmpty())
	assert.Equal(t, versionlog.Changeset{"heading": {Old: "Overview", New: "Intro"}}, history[2].Changeset)

	// 编辑者仍持有回滚前的令牌
	_, err = env.Service.Update(ctx, audited.TypeBookSection, rec.ID, 2, snapshot.Fields{"heading": "Stale"})
	assert.True(t, errors.IsConflict(err))
}

func TestRevert_RevertOfRevertRedoes(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	rec := createAndRename(t, env)
	engine := newEngine(env, revert.Options{})

	first, err := engine.Revert(ctx, env.History(t, audited.TypeBookSection, rec.ID)[1].ID)
	require.NoError(t, err)
	second, err := engine.Revert(ctx, first.Recorded.ID)
	require.NoError(t, err)
	assert.Equal(t, "Overview", second.Record.Fields["heading"])
	assert.Equal(t, int64(4), second.Record.LockVersion)
}

func TestRevert_NoChangeRevertIsRevertible(t *testing.T) {
	env := testenv.New(t, testenv.WithoutUpdateSnapshots())
	ctx := context.Background()
	rec := createAndRename(t, env)
	engine := newEngine(env, revert.Options{})

	target := env.History(t, audited.TypeBookSection, rec.ID)[1]
	_, err := engine.Revert(ctx, target.ID)
	require.NoError(t, err)
	// 状态已是目标前态，强制写入仍记一条空的 updated
	again, err := engine.Revert(ctx, target.ID)
	require.NoError(t, err)
	require.NotNil(t, again.Recorded)
	assert.Empty(t, again.Recorded.Changeset)
	assert.False(t, again.Recorded.HasSnapshot())

	res, err := engine.Revert(ctx, again.Recorded.ID)
	require.NoError(t, err)
	assert.Equal(t, revert.ActionRollback, res.Action)
	assert.Equal(t, "Intro", res.Record.Fields["heading"])
	assert.Equal(t, int64(5), res.Record.LockVersion)
}

func TestRevert_UndoCreate(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	rec := createAndRename(t, env)
	engine := newEngine(env, revert.Options{})

	created := env.History(t, audited.TypeBookSection, rec.ID)[0]
	res, err := engine.Revert(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, revert.ActionUndoCreate, res.Action)
	assert.Nil(t, res.Record)
	require.NotNil(t, res.Recorded)
	assert.Equal(t, versionlog.EventDeleted, res.Recorded.Event)

	_, err = env.Service.Get(ctx, audited.TypeBookSection, rec.ID)
	assert.True(t, errors.IsNotFound(err))

	again, err := engine.Revert(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, revert.ActionNoop, again.Action)
	assert.Nil(t, again.Recorded)
	assert.Len(t, env.History(t, audited.TypeBookSection, rec.ID), 3)
}

func TestRevert_RecreateDeleted(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	rec := createAndRename(t, env)
	require.NoError(t, env.Service.Delete(ctx, audited.TypeBookSection, rec.ID, 2))
	engine := newEngine(env, revert.Options{})

	deleted := env.History(t, audited.TypeBookSection, rec.ID)[2]
	res, err := engine.Revert(ctx, deleted.ID)
	require.NoError(t, err)
	assert.Equal(t, revert.ActionRecreate, res.Action)
	assert.Equal(t, rec.ID, res.Record.ID)
	assert.Equal(t, int64(1), res.Record.LockVersion)
	assert.Equal(t, versionlog.EventCreated, res.Recorded.Event)

	live, err := env.Service.Get(ctx, audited.TypeBookSection, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Overview", live.Fields["heading"])
	assert.Equal(t, int64(10), live.Fields["book_id"])
}

func TestRevert_SkipsValidation(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	rec := createAndRename(t, env)

	invalid := testenv.BookSection(strings.Repeat("h", 150))
	raw, err := snapshot.Encode(invalid)
	require.NoError(t, err)
	require.NoError(t, env.Service.Delete(ctx, audited.TypeBookSection, rec.ID, 2))
	legacy := appendRaw(t, env, versionlog.AppendInput{
		ItemType: audited.TypeBookSection,
		ItemID:   rec.ID,
		Event:    versionlog.EventDeleted,
		Snapshot: raw,
	})

	res, err := newEngine(env, revert.Options{}).Revert(ctx, legacy.ID)
	require.NoError(t, err)
	assert.Len(t, res.Record.Fields["heading"], 150)
}

func TestRevert_ReconstructionFailureLeavesStateUntouched(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	rec := createAndRename(t, env)

	legacy := appendRaw(t, env, versionlog.AppendInput{
		ItemType: audited.TypeBookSection,
		ItemID:   rec.ID,
		Event:    versionlog.EventUpdated,
		Snapshot: []byte("{broken"),
	})
	before := env.History(t, audited.TypeBookSection, rec.ID)

	_, err := newEngine(env, revert.Options{}).Revert(ctx, legacy.ID)
	require.Error(t, err)
	assert.True(t, errors.IsReconstructionFailed(err))
	assert.Equal(t, legacy.ID, err.(errors.IError).Details()["version_id"])
	msg := fmt.Sprintf("无法重建版本 %d 之前的状态", legacy.ID)
	assert.Equal(t, 1, strings.Count(err.Error(), msg), err.Error())

	live, err := env.Service.Get(ctx, audited.TypeBookSection, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Overview", live.Fields["heading"])
	assert.Equal(t, int64(2), live.LockVersion)
	assert.Len(t, env.History(t, audited.TypeBookSection, rec.ID), len(before))
}

func TestRevert_CorruptDeletedSnapshot(t *testing.T) {
	env := testenv.New(t)
	rec := createAndRename(t, env)
	bad := appendRaw(t, env, versionlog.AppendInput{
		ItemType: audited.TypeBookSection,
		ItemID:   rec.ID,
		Event:    versionlog.EventDeleted,
		Snapshot: []byte("{broken"),
	})

	_, err := newEngine(env, revert.Options{}).Revert(context.Background(), bad.ID)
	assert.True(t, errors.IsReconstructionFailed(err))
}

func TestRevert_TargetErrors(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	engine := newEngine(env, revert.Options{})

	_, err := engine.Revert(ctx, 424242)
	assert.True(t, errors.IsNotFound(err))

	foreign := appendRaw(t, env, versionlog.AppendInput{ItemType: "User", ItemID: 1, Event: versionlog.EventCreated})
	_, err = engine.Revert(ctx, foreign.ID)
	assert.True(t, errors.IsInvalidTarget(err))
}

func TestRevert_UsesLocker(t *testing.T) {
	env := testenv.New(t)
	rec := createAndRename(t, env)
	locker := &recordingLocker{}

	target := env.History(t, audited.TypeBookSection, rec.ID)[1]
	_, err := newEngine(env, revert.Options{Locker: locker}).Revert(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, []versionlog.ItemKey{{Type: audited.TypeBookSection, ID: rec.ID}}, locker.locked)
	assert.Equal(t, 1, locker.unlocked)
}

type recordingLocker struct {
	locked   []versionlog.ItemKey
	unlocked int
}

func (l *recordingLocker) Lock(_ context.Context, key versionlog.ItemKey) (func(), error) {
	l.locked = append(l.locked, key)
	return func() { l.unlocked++ }, nil
}
