package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/srujansrutha/amri/internal/circuitbreaker"
)

const slowThreshold = 100 * time.Millisecond

// RedisHealthChecker pings the Redis used for checkpoints, the semantic
// cache and leases.
type RedisHealthChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	timeout time.Duration
}

func NewRedisHealthChecker(wrapper *circuitbreaker.RedisWrapper) *RedisHealthChecker {
	return &RedisHealthChecker{wrapper: wrapper, timeout: 5 * time.Second}
}

func (r *RedisHealthChecker) Name() string           { return "redis" }
func (r *RedisHealthChecker) IsCritical() bool       { return true }
func (r *RedisHealthChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisHealthChecker) Check(ctx context.Context) CheckResult {
	if r.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Redis circuit breaker is open",
		}
	}
	start := time.Now()
	err := r.wrapper.Ping(ctx).Err()
	return latencyResult("Redis", time.Since(start), err)
}

// DatabaseHealthChecker pings the SQL checkpoint database.
type DatabaseHealthChecker struct {
	wrapper *circuitbreaker.DatabaseWrapper
	timeout time.Duration
}

func NewDatabaseHealthChecker(wrapper *circuitbreaker.DatabaseWrapper) *DatabaseHealthChecker {
	return &DatabaseHealthChecker{wrapper: wrapper, timeout: 5 * time.Second}
}

func (d *DatabaseHealthChecker) Name() string           { return "database" }
func (d *DatabaseHealthChecker) IsCritical() bool       { return true }
func (d *DatabaseHealthChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseHealthChecker) Check(ctx context.Context) CheckResult {
	if d.wrapper.IsCircuitBreakerOpen() {
		return CheckResult{
			Status:  StatusUnhealthy,
			Error:   "circuit breaker open",
			Message: "Database circuit breaker is open",
		}
	}
	start := time.Now()
	err := d.wrapper.PingContext(ctx)
	res := latencyResult("Database", time.Since(start), err)
	if err == nil {
		stats := d.wrapper.GetDB().Stats()
		if stats.MaxOpenConnections > 0 && stats.OpenConnections >= stats.MaxOpenConnections {
			res.Status = StatusDegraded
			res.Message = "Database connection pool exhausted"
		}
		res.Details["open_connections"] = stats.OpenConnections
		res.Details["in_use_connections"] = stats.InUse
	}
	return res
}

// HTTPHealthChecker probes a dependency over HTTP, such as Qdrant's
// /readyz. Non-critical by default: retrieval failures degrade reports but
// do not stop the service.
type HTTPHealthChecker struct {
	name     string
	url      string
	client   *http.Client
	critical bool
	timeout  time.Duration
}

func NewHTTPHealthChecker(name, url string, critical bool) *HTTPHealthChecker {
	return &HTTPHealthChecker{
		name:     name,
		url:      url,
		client:   &http.Client{},
		critical: critical,
		timeout:  5 * time.Second,
	}
}

func (h *HTTPHealthChecker) Name() string           { return h.name }
func (h *HTTPHealthChecker) IsCritical() bool       { return h.critical }
func (h *HTTPHealthChecker) Timeout() time.Duration { return h.timeout }

func (h *HTTPHealthChecker) Check(ctx context.Context) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: "invalid probe URL"}
	}
	start := time.Now()
	resp, err := h.client.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			err = fmt.Errorf("status %d", resp.StatusCode)
		}
	}
	return latencyResult(h.name, time.Since(start), err)
}

// CustomHealthChecker wraps a function.
type CustomHealthChecker struct {
	name     string
	critical bool
	timeout  time.Duration
	checkFn  func(ctx context.Context) CheckResult
}

func NewCustomHealthChecker(name string, critical bool, timeout time.Duration, checkFn func(ctx context.Context) CheckResult) *CustomHealthChecker {
	return &CustomHealthChecker{name: name, critical: critical, timeout: timeout, checkFn: checkFn}
}

func (c *CustomHealthChecker) Name() string           { return c.name }
func (c *CustomHealthChecker) IsCritical() bool       { return c.critical }
func (c *CustomHealthChecker) Timeout() time.Duration { return c.timeout }

func (c *CustomHealthChecker) Check(ctx context.Context) CheckResult {
	return c.checkFn(ctx)
}

func latencyResult(component string, took time.Duration, err error) CheckResult {
	details := map[string]interface{}{"latency_ms": took.Milliseconds()}
	label := component
	if len(label) > 0 {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	switch {
	case err != nil:
		details["error"] = err.Error()
		return CheckResult{Status: StatusUnhealthy, Error: err.Error(), Message: label + " ping failed", Details: details}
	case took > slowThreshold:
		return CheckResult{Status: StatusDegraded, Message: label + " responding but with high latency", Details: details}
	default:
		return CheckResult{Status: StatusHealthy, Message: label + " healthy", Details: details}
	}
}
