package store

import (
	"context"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"attendance-punch/internal/credential"
	"attendance-punch/internal/db"
	"attendance-punch/internal/model"
)

// newSQLiteStore opens an isolated in-memory database for a test.
func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	dsn := "file:" + url.PathEscape(t.Name()) + "?mode=memory&cache=shared"
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Migrate(gormDB))

	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	return NewGormStore(gormDB)
}

// A helper function to create a mock database connection.
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: sqlDB,
	}), &gorm.Config{})
	require.NoError(t, err)

	return gormDB, mock
}

func TestGormStore_Credentials(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	empty, err := s.LoadCredentials(ctx)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	require.NoError(t, s.SaveCredentials(ctx, credential.Set{
		credential.DefaultBearerName: "bearer-1",
		"session":                    "s1",
		"stale":                      "x",
	}))

	require.NoError(t, s.SaveCredentials(ctx, credential.Set{
		credential.DefaultBearerName: "bearer-1",
		"session":                    "s2",
	}))

	got, err := s.LoadCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, credential.Set{credential.DefaultBearerName: "bearer-1", "session": "s2"}, got)

	require.NoError(t, s.SetCredential(ctx, credential.DefaultBearerName, "bearer-2"))
	got, err = s.LoadCredentials(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bearer-2", got[credential.DefaultBearerName])
	assert.Equal(t, "s2", got["session"])
}

func TestGormStore_SaveEmptyClearsBundle(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveCredentials(ctx, credential.Set{"a": "1"}))
	require.NoError(t, s.SaveCredentials(ctx, credential.Set{}))

	got, err := s.LoadCredentials(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGormStore_Punches(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 10, 12, 9, 15, 0, 0, time.UTC)

	for i, outcome := range []string{"success", "auth_rejected", "success"} {
		rec := &model.PunchRecord{
			SubmissionID: "sub-" + string(rune('a'+i)),
			Action:       "check-in",
			Outcome:      outcome,
			Attempts:     1,
			StartedAt:    base.Add(time.Duration(i) * time.Hour),
			FinishedAt:   base.Add(time.Duration(i)*time.Hour + time.Second),
		}
		require.NoError(t, s.RecordPunch(ctx, rec))
		assert.NotZero(t, rec.ID)
	}

	recent, err := s.RecentPunches(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "sub-c", recent[0].SubmissionID)
	assert.Equal(t, "auth_rejected", recent[1].Outcome)
}

func TestGormStore_Subscriptions(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	sub := &model.PushSubscription{Endpoint: "https://push.example.com/1", P256DH: "k1", Auth: "a1"}
	require.NoError(t, s.UpsertSubscription(ctx, sub))
	require.NoError(t, s.UpsertSubscription(ctx, &model.PushSubscription{Endpoint: sub.Endpoint, P256DH: "k2", Auth: "a2"}))

	subs, err := s.ListSubscriptions(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "k2", subs[0].P256DH)

	require.NoError(t, s.DeleteSubscription(ctx, sub.Endpoint))
	assert.ErrorIs(t, s.DeleteSubscription(ctx, sub.Endpoint), ErrNotFound)
}

func TestGormStore_DeleteSubscriptionSQL(t *testing.T) {
	gormDB, mock := newMockDB(t)
	s := NewGormStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "push_subscriptions" WHERE "push_subscriptions"."endpoint" = $1`)).
		WithArgs("https://push.example.com/gone").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.DeleteSubscription(context.Background(), "https://push.example.com/gone"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
