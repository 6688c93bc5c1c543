package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/srujansrutha/amri/internal/circuitbreaker"
)

func staticChecker(name string, critical bool, status CheckStatus) Checker {
	return NewCustomHealthChecker(name, critical, time.Second, func(context.Context) CheckResult {
		return CheckResult{Status: status}
	})
}

func TestRedisHealthChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisHealthChecker(circuitbreaker.NewRedisWrapper(client, "health-test", zaptest.NewLogger(t)))

	res := c.Check(context.Background())
	assert.NotEqual(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "redis", c.Name())
	assert.True(t, c.IsCritical())

	mr.Close()
	res = c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.NotEmpty(t, res.Error)
}

func TestDatabaseHealthChecker(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	wrapper := circuitbreaker.NewDatabaseWrapper(sqlx.NewDb(db, "postgres"), zaptest.NewLogger(t))
	c := NewDatabaseHealthChecker(wrapper)

	mock.ExpectPing()
	res := c.Check(context.Background())
	assert.NotEqual(t, StatusUnhealthy, res.Status)
	assert.Contains(t, res.Details, "open_connections")

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	res = c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Contains(t, res.Error, "connection refused")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHTTPHealthChecker(t *testing.T) {
	var code atomic.Int32
	code.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/readyz", r.URL.Path)
		w.WriteHeader(int(code.Load()))
	}))
	defer srv.Close()

	c := NewHTTPHealthChecker("qdrant", srv.URL+"/readyz", false)
	assert.NotEqual(t, StatusUnhealthy, c.Check(context.Background()).Status)

	code.Store(http.StatusServiceUnavailable)
	res := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "Qdrant ping failed", res.Message)
}

func TestManagerAggregation(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		status   CheckStatus
		ready    bool
	}{
		{"none", nil, StatusHealthy, true},
		{"all healthy", []Checker{staticChecker("a", true, StatusHealthy), staticChecker("b", false, StatusHealthy)}, StatusHealthy, true},
		{"non-critical down", []Checker{staticChecker("a", true, StatusHealthy), staticChecker("qdrant", false, StatusUnhealthy)}, StatusDegraded, true},
		{"degraded", []Checker{staticChecker("a", true, StatusDegraded)}, StatusDegraded, true},
		{"critical down", []Checker{staticChecker("redis", true, StatusUnhealthy), staticChecker("b", false, StatusHealthy)}, StatusUnhealthy, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewManager(time.Minute, zaptest.NewLogger(t))
			for _, c := range tt.checkers {
				require.NoError(t, m.RegisterChecker(c))
			}
			d := m.GetDetailedHealth(context.Background())
			assert.Equal(t, tt.status, d.Overall.Status)
			assert.Equal(t, tt.ready, d.Overall.Ready)
			assert.True(t, d.Overall.Live)
			assert.Len(t, d.Components, len(tt.checkers))
			assert.Len(t, m.GetLastResults(), len(tt.checkers))
		})
	}
}

func TestManagerRejectsDuplicates(t *testing.T) {
	m := NewManager(0, nil)
	require.NoError(t, m.RegisterChecker(staticChecker("redis", true, StatusHealthy)))
	assert.Error(t, m.RegisterChecker(staticChecker("redis", true, StatusHealthy)))
	assert.Error(t, m.RegisterChecker(staticChecker("", true, StatusHealthy)))
}

func TestManagerStartStop(t *testing.T) {
	m := NewManager(10*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(staticChecker("a", true, StatusHealthy)))
	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	require.Eventually(t, func() bool { return len(m.GetLastResults()) == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, m.Stop())
	require.NoError(t, m.Stop())
}

func TestHTTPEndpoints(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))
	require.NoError(t, m.RegisterChecker(staticChecker("redis", true, StatusUnhealthy)))
	mux := http.NewServeMux()
	NewHTTPHandler(m, zaptest.NewLogger(t)).RegisterRoutes(mux)

	get := func(path string) (*httptest.ResponseRecorder, map[string]interface{}) {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec, body
	}

	rec, body := get("/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])

	rec, body = get("/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["ready"])

	rec, body = get("/health/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["live"])

	rec, body = get("/health/detailed")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, body["components"], "redis")
}

func TestManagerCheckTimeoutCapsCheckers(t *testing.T) {
	m := NewManager(time.Minute, zaptest.NewLogger(t))
	m.SetCheckTimeout(50 * time.Millisecond)
	require.NoError(t, m.RegisterChecker(NewCustomHealthChecker("slow", true, time.Minute, func(ctx context.Context) CheckResult {
		<-ctx.Done()
		return CheckResult{Status: StatusUnhealthy, Error: ctx.Err().Error()}
	})))

	start := time.Now()
	h := m.GetDetailedHealth(context.Background())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, StatusUnhealthy, h.Components["slow"].Status)
	assert.Equal(t, context.DeadlineExceeded.Error(), h.Components["slow"].Error)
}
