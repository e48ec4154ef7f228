package repository

import (
	"context"
	"testing"

	"faucetd/internal/interfaces"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockRepo(t *testing.T) (interfaces.SessionStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)

	return NewSessionRepository(gdb), mock
}

func TestUnclaimedBalance_SumsClaimableAmounts(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"amount"}).AddRow("100").AddRow("250").AddRow("not-a-number")
	mock.ExpectQuery(`SELECT .*amount.* FROM "faucet_sessions"`).WillReturnRows(rows)

	sum, err := repo.UnclaimedBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "350", sum.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUnclaimedBalance_NoRows(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"amount"})
	mock.ExpectQuery(`SELECT .*amount.* FROM "faucet_sessions"`).WillReturnRows(rows)

	sum, err := repo.UnclaimedBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0", sum.String())
}

func TestGetSession_ReturnsNilWhenNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`SELECT .* FROM "faucet_sessions"`).
		WillReturnRows(sqlmock.NewRows([]string{"session_id"}))

	rec, err := repo.GetSession(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
