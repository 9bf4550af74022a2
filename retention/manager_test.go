package retention_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edutrail/domain/audited"
	"edutrail/errors"
	"edutrail/history"
	"edutrail/internal/testenv"
	"edutrail/retention"
	"edutrail/snapshot"
)

const day = 24 * time.Hour

// editTimes 创建实体后每隔 step 改一次位置，共 edits 次
func editTimes(t *testing.T, env *testenv.Env, edits int, step time.Duration) *audited.Record {
	t.Helper()
	ctx := context.Background()
	rec, err := env.Service.Create(ctx, audited.TypeBookSection, testenv.BookSection("Intro"))
	require.NoError(t, err)
	for i := 1; i <= edits; i++ {
		env.Clock.Advance(step)
		rec, err = env.Service.Update(ctx, audited.TypeBookSection, rec.ID, rec.LockVersion,
			snapshot.Fields{"position": int64(i + 1)})
		require.NoError(t, err)
	}
	return rec
}

func newManager(env *testenv.Env, policy retention.Policy) *retention.Manager {
	return retention.NewManager(env.Versions, policy, retention.Options{Now: env.Clock.Now})
}

func TestRun_AgePass(t *testing.T) {
	env := testenv.New(t)
	rec := editTimes(t, env, 3, 100*day)

	res, err := newManager(env, retention.Policy{MaxAge: 180 * day}).Run(context.Background())
	require.NoError(t, err)
	// 版本时间：0、100、200、300 天；当前 300 天，截止 120 天
	assert.Equal(t, int64(2), res.AgeDeleted)
	assert.Zero(t, res.CapDeleted)

	remaining := env.History(t, audited.TypeBookSection, rec.ID)
	require.Len(t, remaining, 2)
	assert.Equal(t, int64(3), remaining[0].Sequence)
}

func TestRun_CapPassKeepsNewest(t *testing.T) {
	env := testenv.New(t)
	first := editTimes(t, env, 5, time.Minute)
	second := editTimes(t, env, 1, time.Minute)

	res, err := newManager(env, retention.Policy{MaxPerEntity: 3, BatchSize: 1}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.CapDeleted)
	assert.Equal(t, 2, res.ItemsScanned)

	var seqs []int64
	for _, v := range env.History(t, audited.TypeBookSection, first.ID) {
		seqs = append(seqs, v.Sequence)
	}
	assert.Equal(t, []int64{4, 5, 6}, seqs)
	assert.Len(t, env.History(t, audited.TypeBookSection, second.ID), 2)
}

func TestRun_DryRunCountsOnly(t *testing.T) {
	env := testenv.New(t)
	rec := editTimes(t, env, 4, 100*day)

	res, err := newManager(env, retention.Policy{MaxAge: 180 * day, MaxPerEntity: 1, DryRun: true}).Run(context.Background())
	require.NoError(t, err)
	assert.True(t, res.DryRun)
	assert.Equal(t, int64(3), res.AgeDeleted)
	assert.Equal(t, int64(4), res.CapDeleted)
	assert.Len(t, env.History(t, audited.TypeBookSection, rec.ID), 5)
}

func TestRun_Idempotent(t *testing.T) {
	env := testenv.New(t)
	editTimes(t, env, 4, 100*day)
	m := newManager(env, retention.Policy{MaxAge: 180 * day, MaxPerEntity: 1, BatchSize: 2})

	first, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), first.Total())

	second, err := m.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Total())
}

func TestRun_DisabledPolicyDeletesNothing(t *testing.T) {
	env := testenv.New(t)
	rec := editTimes(t, env, 2, 400*day)

	res, err := newManager(env, retention.Policy{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Total())
	assert.Len(t, env.History(t, audited.TypeBookSection, rec.ID), 3)
}

func TestRun_CanceledContext(t *testing.T) {
	env := testenv.New(t)
	editTimes(t, env, 2, 100*day)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newManager(env, retention.Policy{MaxAge: day}).Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrCodeCanceled))
}

func TestRun_SurvivorsStillReconstruct(t *testing.T) {
	env := testenv.New(t)
	rec := editTimes(t, env, 4, time.Minute)

	_, err := newManager(env, retention.Policy{MaxPerEntity: 2}).Run(context.Background())
	require.NoError(t, err)

	survivors := env.History(t, audited.TypeBookSection, rec.ID)
	require.Len(t, survivors, 2)
	r := history.New(env.DB, env.Registry, env.Versions, env.Entities, history.Options{})
	for _, v := range survivors {
		d := r.FieldBeforeAfter(context.Background(), v, "position")
		assert.False(t, d.Unknown, "version %d", v.Sequence)
		assert.True(t, d.Changed())
	}
}

func TestStartStop(t *testing.T) {
	env := testenv.New(t)
	rec := editTimes(t, env, 3, 100*day)
	m := newManager(env, retention.Policy{MaxAge: 180 * day, Interval: 10 * time.Millisecond})

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))
	require.Eventually(t, func() bool {
		n, err := env.Versions.CountForItem(context.Background(), rec.Key())
		return err == nil && n == 2
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}

func TestStop_WithoutStart(t *testing.T) {
	env := testenv.New(t)
	assert.NoError(t, newManager(env, retention.DefaultPolicy()).Stop())
}
