package entitystore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edutrail/data/db/dialect"
	"edutrail/domain/audited"
	"edutrail/errors"
	"edutrail/internal/testenv"
	"edutrail/storage/entitystore"
)

var at = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func insert(t *testing.T, env *testenv.Env, heading string) *audited.Record {
	t.Helper()
	rec := &audited.Record{Fields: testenv.BookSection(heading), CreatedAt: at, UpdatedAt: at}
	rec.Fields["quiz_section_id"] = nil
	require.NoError(t, env.Entities.Insert(context.Background(), env.DB, env.Handle(t, audited.TypeBookSection), rec))
	return rec
}

func TestStore_InsertLoad(t *testing.T) {
	env := testenv.New(t)
	rec := insert(t, env, "Intro")
	assert.NotZero(t, rec.ID)
	assert.Equal(t, int64(1), rec.LockVersion)

	got, err := env.Entities.Load(context.Background(), env.DB, env.Handle(t, audited.TypeBookSection), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intro", got.Fields["heading"])
	assert.Equal(t, int64(10), got.Fields["book_id"])
	assert.Equal(t, false, got.Fields["is_free"])
	assert.Nil(t, got.Fields["quiz_section_id"])
	assert.Equal(t, int64(1), got.LockVersion)
	assert.True(t, at.Equal(got.CreatedAt))

	_, err = env.Entities.Load(context.Background(), env.DB, env.Handle(t, audited.TypeBookSection), rec.ID+1)
	assert.True(t, errors.IsNotFound(err))
}

func TestStore_InsertDuplicateID(t *testing.T) {
	env := testenv.New(t)
	rec := insert(t, env, "Intro")

	dup := &audited.Record{ID: rec.ID, Fields: testenv.BookSection("Again"), CreatedAt: at, UpdatedAt: at}
	err := env.Entities.Insert(context.Background(), env.DB, env.Handle(t, audited.TypeBookSection), dup)
	assert.True(t, errors.IsConflict(err))
}

func TestStore_SaveEnforceAndForce(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	h := env.Handle(t, audited.TypeBookSection)
	rec := insert(t, env, "Intro")

	rec.Fields["heading"] = "Stale"
	err := env.Entities.Save(ctx, env.DB, h, rec, 5, audited.ModeEnforce)
	assert.True(t, errors.IsConflict(err))

	rec.Fields["heading"] = "Overview"
	require.NoError(t, env.Entities.Save(ctx, env.DB, h, rec, 1, audited.ModeEnforce))
	assert.Equal(t, int64(2), rec.LockVersion)

	rec.Fields["heading"] = "Forced"
	require.NoError(t, env.Entities.Save(ctx, env.DB, h, rec, 0, audited.ModeForce))
	assert.Equal(t, int64(3), rec.LockVersion)

	got, err := env.Entities.Load(ctx, env.DB, h, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Forced", got.Fields["heading"])
	assert.Equal(t, int64(3), got.LockVersion)
}

func TestStore_ForceSaveRecreatesMissingRow(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	h := env.Handle(t, audited.TypeBookSection)
	rec := insert(t, env, "Intro")
	require.NoError(t, env.Entities.Delete(ctx, env.DB, h, rec.ID, 1, audited.ModeEnforce))

	rec.CreatedAt = time.Time{}
	require.NoError(t, env.Entities.Save(ctx, env.DB, h, rec, 0, audited.ModeForce))
	assert.Equal(t, int64(1), rec.LockVersion)

	got, err := env.Entities.Load(ctx, env.DB, h, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "Intro", got.Fields["heading"])
}

func TestStore_Delete(t *testing.T) {
	env := testenv.New(t)
	ctx := context.Background()
	h := env.Handle(t, audited.TypeBookSection)
	rec := insert(t, env, "Intro")

	err := env.Entities.Delete(ctx, env.DB, h, rec.ID, 7, audited.ModeEnforce)
	assert.True(t, errors.IsConflict(err))

	require.NoError(t, env.Entities.Delete(ctx, env.DB, h, rec.ID, 0, audited.ModeForce))
	assert.True(t, errors.IsNotFound(env.Entities.Delete(ctx, env.DB, h, rec.ID, 0, audited.ModeForce)))
	assert.True(t, errors.IsNotFound(env.Entities.Delete(ctx, env.DB, h, rec.ID, 1, audited.ModeEnforce)))
}

func TestStore_Titles(t *testing.T) {
	env := testenv.New(t)
	h := env.Handle(t, audited.TypeBookSection)
	a := insert(t, env, "Intro")
	b := insert(t, env, "Outro")

	titles, err := env.Entities.Titles(context.Background(), env.DB, h, []int64{a.ID, b.ID, b.ID + 99})
	require.NoError(t, err)
	assert.Equal(t, map[int64]string{a.ID: "Intro", b.ID: "Outro"}, titles)

	empty, err := env.Entities.Titles(context.Background(), env.DB, h, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestDDL(t *testing.T) {
	stmts := entitystore.DDL(dialect.New("pgx"), audited.QuizQuestion())
	require.Len(t, stmts, 1)
	assert.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS quiz_questions")
	assert.Contains(t, stmts[0], "created_at TIMESTAMPTZ NOT NULL")
	assert.Contains(t, stmts[0], "correct_choice BIGINT NULL")
}
