package postgres

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"hujra/internal/infra/persistence/postgres/testutil"
	"hujra/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStub(t *testing.T) (*Store, *testutil.StubConn) {
	t.Helper()
	db, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	t.Cleanup(restore)
	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	require.NoError(t, err)
	return store, conn
}

func TestNewStoreCreatesStateTableAndLoadsSnapshot(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.State["students"] = []byte(`{"s1":{"id":"s1","fullName":"Ali"}}`)
	conn.State["visits"] = []byte(`{"v1":{"id":"v1","studentId":"s1","visitDate":"2024-01-02"}}`)
	conn.State["legacy"] = []byte(`[]`)
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()

	store, err := NewStore(context.Background(), "", domain.NewRulesEngine())
	require.NoError(t, err)
	assert.Same(t, db, store.DB())

	st, ok := store.GetStudent("s1")
	require.True(t, ok)
	assert.Equal(t, "Ali", st.FullName)
	assert.Len(t, store.ListVisits(), 1)

	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(strings.ToUpper(stmt), "CREATE TABLE IF NOT EXISTS STATE") {
			sawDDL = true
		}
	}
	assert.True(t, sawDDL, "execs: %v", conn.Execs)
}

func TestRunInTransactionPersistsBothBuckets(t *testing.T) {
	store, conn := openStub(t)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.PutStudent(domain.Student{ID: "s1", FullName: "Ali"}); err != nil {
			return err
		}
		_, err := tx.PutVisit(domain.VisitEvent{ID: "v1", StudentID: "s1"})
		return err
	})
	require.NoError(t, err)

	require.Len(t, conn.State, 2)
	assert.Contains(t, string(conn.State["students"]), `"fullName":"Ali"`)
	assert.Contains(t, string(conn.State["visits"]), `"studentId":"s1"`)
}

func TestRunInTransactionRollsBackMemoryOnCommitFailure(t *testing.T) {
	store, conn := openStub(t)
	conn.FailCommit = true
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.PutStudent(domain.Student{ID: "s1"})
		return err
	})
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Empty(t, store.ListStudents())
	assert.Empty(t, conn.State)
}

func TestRunInTransactionRollsBackMemoryOnExecFailure(t *testing.T) {
	store, conn := openStub(t)
	conn.FailUpsert = true
	err := store.ReplaceState(context.Background(), domain.Snapshot{
		Students: map[string]domain.Student{"s1": {ID: "s1"}},
	})
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Empty(t, store.ListStudents())
}

func TestRunInTransactionBeginFailure(t *testing.T) {
	store, conn := openStub(t)
	conn.FailBegin = true
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.PutStudent(domain.Student{ID: "s1"})
		return err
	})
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestRunInTransactionStopsOnUserError(t *testing.T) {
	store, conn := openStub(t)
	before := len(conn.Execs)
	_, err := store.RunInTransaction(context.Background(), func(domain.Transaction) error {
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Len(t, conn.Execs, before)
}

func TestNewStoreOpenErrors(t *testing.T) {
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return nil, assert.AnError })
	_, err := NewStore(context.Background(), "postgres://x", nil)
	restore()
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)

	db, conn := testutil.NewStubDB()
	conn.FailExec = true
	restore = OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	_, err = NewStore(context.Background(), "", nil)
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestLoadSnapshotErrors(t *testing.T) {
	db, conn := testutil.NewStubDB()
	conn.State["students"] = []byte(`not json`)
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
	defer restore()
	_, err := NewStore(context.Background(), "", nil)
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.Contains(t, err.Error(), "decode students")

	db2, conn2 := testutil.NewStubDB()
	conn2.RowsErr = assert.AnError
	restore2 := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db2, nil })
	defer restore2()
	_, err = NewStore(context.Background(), "", nil)
	require.ErrorIs(t, err, domain.ErrStorageUnavailable)
}
