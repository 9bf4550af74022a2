package versions_test

import (
	"context"
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
	"edutrail/versions"
)

func newService(env *testenv.Env) *versions.Service {
	rec := history.New(env.DB, env.Registry, env.Versions, env.Entities, history.Options{})
	engine := revert.NewEngine(env.Service, env.Versions, rec, revert.Options{})
	return versions.NewService(env.Registry, env.Versions, rec, engine)
}

// seed 创建一个页面并修改正文，返回记录与两条版本
func seed(t *testing.T, env *testenv.Env) (*audited.Record, []*versionlog.Version) {
	t.Helper()
	ctx := context.Background()
	rec, err := env.Service.Create(ctx, audited.TypeBookSection, testenv.BookSection("Intro"))
	require.NoError(t, err)
	_, err = env.Service.Update(ctx, audited.TypeBookSection, rec.ID, 1, snapshot.Fields{
		"heading": "Overview",
		"content": "<p>Intro body</p>\n<p>more</p>",
	})
	require.NoError(t, err)
	return rec, env.History(t, audited.TypeBookSection, rec.ID)
}

func appendForeign(t *testing.T, env *testenv.Env) *versionlog.Version {
	t.Helper()
	var v *versionlog.Version
	err := db.InTx(context.Background(), env.DB, func(tx db.IDatabase) error {
		var err error
		v, err = env.Versions.Append(context.Background(), tx, versionlog.AppendInput{
			ItemType:  "User",
			ItemID:    1,
			Event:     versionlog.EventUpdated,
			Changeset: versionlog.Changeset{"email": {Old: "a@x", New: "b@x"}},
		})
		return err
	})
	require.NoError(t, err)
	return v
}

func TestListVersions(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	rec, vs := seed(t, env)

	res, err := svc.ListVersions(ctx, versionlog.Filter{ItemType: audited.TypeBookSection, ItemID: &rec.ID}, versionlog.Page{})
	require.NoError(t, err)
	require.Len(t, res.Versions, 2)
	assert.Equal(t, vs[1].ID, res.Versions[0].ID)
	assert.False(t, res.HasMore)

	_, err = svc.ListVersions(ctx, versionlog.Filter{ItemType: "User"}, versionlog.Page{})
	assert.True(t, errors.IsInvalidTarget(err))

	_, err = svc.ListVersions(ctx, versionlog.Filter{Event: "touched"}, versionlog.Page{})
	assert.True(t, errors.IsInvalidInput(err))
}

func TestGetVersion_Whitelist(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()

	foreign := appendForeign(t, env)
	_, err := svc.GetVersion(ctx, foreign.ID)
	assert.True(t, errors.IsInvalidTarget(err))

	_, err = svc.DiffField(ctx, foreign.ID, "email")
	assert.True(t, errors.IsInvalidTarget(err))

	_, err = svc.Revert(ctx, foreign.ID)
	assert.True(t, errors.IsInvalidTarget(err))

	assert.True(t, errors.IsInvalidTarget(svc.DeleteVersion(ctx, foreign.ID)))

	_, err = svc.GetVersion(ctx, 424242)
	assert.True(t, errors.IsNotFound(err))
}

func TestDiffField(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	_, vs := seed(t, env)

	d, err := svc.DiffField(context.Background(), vs[1].ID, "heading")
	require.NoError(t, err)
	assert.Equal(t, "Intro", d.Before)
	assert.Equal(t, "Overview", d.After)
	assert.True(t, d.Changed())

	d, err = svc.DiffField(context.Background(), vs[1].ID, "nope")
	require.NoError(t, err)
	assert.True(t, d.Unknown)
}

func TestShowVersion(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	_, vs := seed(t, env)

	view, err := svc.ShowVersion(context.Background(), vs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, vs[1].ID, view.Version.ID)
	require.NotNil(t, view.Neighbors.Previous)
	assert.Equal(t, vs[0].ID, view.Neighbors.Previous.ID)
	assert.Nil(t, view.Neighbors.Next)

	h := env.Handle(t, audited.TypeBookSection)
	assert.Len(t, view.Diffs, len(h.Fields))

	// 只有变化了的长文本字段有逐行差异
	require.Contains(t, view.Lines, "content")
	assert.NotContains(t, view.Lines, "heading")
	assert.Equal(t, []history.Line{
		{Op: history.LineEqual, Text: "<p>Intro body</p>"},
		{Op: history.LineAdded, Text: "<p>more</p>"},
	}, view.Lines["content"])
}

func TestRevertThroughService(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	rec, vs := seed(t, env)

	res, err := svc.Revert(context.Background(), vs[1].ID)
	require.NoError(t, err)
	assert.Equal(t, revert.ActionRollback, res.Action)

	live, err := env.Service.Get(context.Background(), audited.TypeBookSection, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intro", live.Fields["heading"])
	assert.Equal(t, "<p>Intro body</p>", live.Fields["content"])
}

func TestDeleteVersion(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	rec, vs := seed(t, env)

	require.NoError(t, svc.DeleteVersion(ctx, vs[0].ID))
	_, err := svc.GetVersion(ctx, vs[0].ID)
	assert.True(t, errors.IsNotFound(err))

	// 之后的版本不会重排 sequence
	left := env.History(t, audited.TypeBookSection, rec.ID)
	require.Len(t, left, 1)
	assert.Equal(t, vs[1].Sequence, left[0].Sequence)
}

func TestBulkDelete(t *testing.T) {
	env := testenv.New(t)
	svc := newService(env)
	ctx := context.Background()
	rec, vs := seed(t, env)

	n, err := svc.BulkDelete(ctx, []int64{vs[0].ID, vs[1].ID, 999999})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Empty(t, env.History(t, audited.TypeBookSection, rec.ID))

	_, err = svc.BulkDelete(ctx, nil)
	assert.True(t, errors.IsInvalidInput(err))
}
