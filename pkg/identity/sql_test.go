package identity

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/MrCodeEU/facegate/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*SQLRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLRepository(db), mock
}

var identityColumns = []string{"id", "name", "contact", "credential_hash", "template_path", "created_at"}

func TestSQLRepository_Create(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	q := `(?s)^INSERT\s+INTO\s+identities\s*\(id,\s*name,\s*contact,\s*credential_hash,\s*template_path,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)$`
	mock.ExpectExec(q).
		WithArgs("id-1", "Ana", "ana@example.com", []byte("hash"), nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), Identity{
		ID: "id-1", Name: "Ana", Contact: "ana@example.com", CredentialHash: []byte("hash"), CreatedAt: now,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLRepository_Create_DBError(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+identities`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), Identity{ID: "id-1", Contact: "a"})
	require.Error(t, err)
	assert.Regexp(t, regexp.MustCompile(`db error: .*db down`), err.Error())
}

func TestSQLRepository_FindByContact(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	q := `(?s)^SELECT\s+id,\s*name,\s*contact,\s*credential_hash,\s*template_path,\s*created_at\s+FROM\s+identities\s+WHERE\s+contact\s*=\s*\$1$`
	rows := sqlmock.NewRows(identityColumns).AddRow("id-1", "Ana", "ana@example.com", []byte("hash"), "/t/a.tpl", now)
	mock.ExpectQuery(q).WithArgs("ana@example.com").WillReturnRows(rows)

	got, err := repo.FindByContact(context.Background(), "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "id-1", got.ID)
	assert.Equal(t, "/t/a.tpl", got.TemplatePath)
	assert.True(t, got.Enrolled())
}

func TestSQLRepository_FindByContact_NotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+identities`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindByContact(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLRepository_UpdateCredentialHash(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	q := `^UPDATE\s+identities\s+SET\s+credential_hash\s*=\s*\$1\s+WHERE\s+contact\s*=\s*\$2$`
	mock.ExpectExec(q).WithArgs([]byte("new"), "ana@example.com").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q).WithArgs([]byte("new"), "ghost").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.UpdateCredentialHash(context.Background(), "ana@example.com", []byte("new")))
	assert.ErrorIs(t, repo.UpdateCredentialHash(context.Background(), "ghost", []byte("new")), ErrNotFound)
}

func TestSQLRepository_ListEnrolled(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Now().UTC()

	q := `(?s)WHERE\s+template_path\s+IS\s+NOT\s+NULL\s+ORDER\s+BY\s+created_at,\s*id$`
	rows := sqlmock.NewRows(identityColumns).
		AddRow("id-1", "Ana", "ana@example.com", []byte("h"), "/t/a.tpl", now).
		AddRow("id-2", "Bo", "bo@example.com", []byte("h"), "/t/b.tpl", now)
	mock.ExpectQuery(q).WillReturnRows(rows)

	got, err := repo.ListEnrolled(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "bo@example.com", got[1].Contact)
}

func TestSQLRepository_SQLite(t *testing.T) {
	ctx := context.Background()
	db, err := database.Open(ctx, database.DriverSQLite, filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLRepository(db)
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, Identity{ID: "id-1", Name: "Ana", Contact: "ana@example.com", CredentialHash: []byte{0, 1, 2}, CreatedAt: created}))
	require.NoError(t, repo.Create(ctx, Identity{ID: "id-2", Name: "Bo", Contact: "bo@example.com", CredentialHash: []byte{3}, CreatedAt: created.Add(time.Second)}))
	assert.ErrorIs(t, repo.Create(ctx, Identity{ID: "id-3", Name: "Dup", Contact: "ana@example.com", CredentialHash: []byte{4}, CreatedAt: created}), ErrExists)

	got, err := repo.FindByContact(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, got.CredentialHash)
	assert.True(t, got.CreatedAt.Equal(created), "created_at round trip: %s", got.CreatedAt)
	assert.False(t, got.Enrolled())

	require.NoError(t, repo.SetTemplatePath(ctx, "bo@example.com", "/t/bo.tpl"))
	enrolled, err := repo.ListEnrolled(ctx)
	require.NoError(t, err)
	require.Len(t, enrolled, 1)
	assert.Equal(t, "bo@example.com", enrolled[0].Contact)

	require.NoError(t, repo.SetTemplatePath(ctx, "bo@example.com", ""))
	enrolled, err = repo.ListEnrolled(ctx)
	require.NoError(t, err)
	assert.Empty(t, enrolled)

	all, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = repo.FindByContact(ctx, "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}
