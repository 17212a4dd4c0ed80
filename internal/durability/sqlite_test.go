package durability

import (
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VishwanathaRgitgit/DeepAir/internal/monitoring"
	"github.com/VishwanathaRgitgit/DeepAir/internal/sds011"
)

func openTestSQLite(t *testing.T) *SQLiteLog {
	t.Helper()
	monitoring.SetLogger(t.Logf)
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	l, err := OpenSQLite(filepath.Join(t.TempDir(), "deepair.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestSQLiteLog_MigrateIdempotent(t *testing.T) {
	l := openTestSQLite(t)
	require.NoError(t, l.EnsureHeader())
	require.NoError(t, l.EnsureHeader())

	v, dirty, err := l.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)
}

func TestSQLiteLog_AppendBeforeMigrate(t *testing.T) {
	l := openTestSQLite(t)
	err := l.Append(Record{})
	assert.True(t, errors.Is(err, ErrPersistenceWriteFailed))
}

func TestSQLiteLog_Append(t *testing.T) {
	l := openTestSQLite(t)
	require.NoError(t, l.EnsureHeader())

	at := time.Date(2026, 3, 1, 9, 30, 15, 0, time.Local)
	pred := 33.3
	require.NoError(t, l.Append(NewRecord(sds011.Measurement{PM25: 30, PM10: 60.2, ObservedAt: at}, nil)))
	require.NoError(t, l.Append(NewRecord(sds011.Measurement{PM25: 31, PM10: 61, ObservedAt: at.Add(time.Second)}, &pred)))

	n, err := l.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rows, err := l.DB().Query(`SELECT session_id, observed_at, pm25, pm10, predicted_pm25 FROM readings ORDER BY reading_id`)
	require.NoError(t, err)
	defer rows.Close()

	type row struct {
		session, at string
		pm25, pm10  float64
		pred        sql.NullFloat64
	}
	var got []row
	for rows.Next() {
		var r row
		require.NoError(t, rows.Scan(&r.session, &r.at, &r.pm25, &r.pm10, &r.pred))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	require.Len(t, got, 2)

	assert.Equal(t, l.SessionID(), got[0].session)
	assert.Equal(t, "2026-03-01 09:30:15", got[0].at)
	assert.Equal(t, 60.2, got[0].pm10)
	assert.False(t, got[0].pred.Valid)
	assert.True(t, got[1].pred.Valid)
	assert.Equal(t, 33.3, got[1].pred.Float64)
}

func TestSQLiteLog_SessionsAreDistinct(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deepair.db")
	ids := map[string]bool{}
	for i := 0; i < 2; i++ {
		l, err := OpenSQLite(path)
		require.NoError(t, err)
		require.NoError(t, l.EnsureHeader())
		require.NoError(t, l.Append(Record{Measurement: sds011.Measurement{PM25: 1, PM10: 2, ObservedAt: time.Now()}}))
		n, err := l.Count()
		require.NoError(t, err)
		assert.Equal(t, 1, n, "count is per session")
		ids[l.SessionID()] = true
		require.NoError(t, l.Close())
	}
	assert.Len(t, ids, 2)
}

func TestSQLiteLog_AdminRoutes(t *testing.T) {
	l := openTestSQLite(t)
	require.NoError(t, l.EnsureHeader())

	mux := http.NewServeMux()
	require.NoError(t, l.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/session", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), l.SessionID())
}
