package sql

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsDriverCounts(t *testing.T) {
	drv, mock := mockDriver(t)
	stats := NewStatsDriver(drv, WithSlowThreshold(time.Hour))

	mock.ExpectQuery("SELECT id FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a"))
	mock.ExpectExec("DELETE FROM users").
		WillReturnResult(sqlmock.NewResult(0, 1))

	rows := &Rows{}
	require.NoError(t, stats.Query(context.Background(), "SELECT id FROM users", []any{}, rows))
	rows.Close()
	require.NoError(t, stats.Exec(context.Background(), "DELETE FROM users", []any{}, nil))

	snap := stats.Stats()
	assert.Equal(t, int64(1), snap.TotalQueries)
	assert.Equal(t, int64(1), snap.TotalExecs)
	assert.Equal(t, int64(0), snap.SlowQueries)
	assert.Equal(t, int64(0), snap.Errors)
	assert.Greater(t, snap.TotalDuration, time.Duration(0))

	stats.ResetStats()
	assert.Equal(t, int64(0), stats.Stats().TotalQueries)
}

func TestStatsDriverSlowHook(t *testing.T) {
	drv, mock := mockDriver(t)
	var hooked []string
	stats := NewStatsDriver(drv,
		WithSlowThreshold(0),
		WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			hooked = append(hooked, query)
		}),
	)

	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(int64(1)))

	rows := &Rows{}
	require.NoError(t, stats.Query(context.Background(), "SELECT 1", []any{}, rows))
	rows.Close()

	assert.Equal(t, []string{"SELECT 1"}, hooked)
	assert.Equal(t, int64(1), stats.Stats().SlowQueries)
}

func TestStatsDriverErrors(t *testing.T) {
	drv, mock := mockDriver(t)
	stats := NewStatsDriver(drv)

	mock.ExpectExec("UPDATE users SET x = $1").
		WillReturnError(assert.AnError)

	err := stats.Exec(context.Background(), "UPDATE users SET x = $1", []any{1}, nil)
	require.Error(t, err)
	assert.Equal(t, int64(1), stats.Stats().Errors)
}

func TestStatsSnapshotString(t *testing.T) {
	snap := StatsSnapshot{TotalQueries: 2, TotalExecs: 2, TotalDuration: 4 * time.Millisecond}
	assert.Equal(t, time.Millisecond, snap.AvgQueryDuration())
	assert.Contains(t, snap.String(), "queries=2")
	assert.Equal(t, time.Duration(0), StatsSnapshot{}.AvgQueryDuration())
}
