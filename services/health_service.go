package services

import (
	"context"
	"errors"
	"faltas_go/config"
	"faltas_go/database"
	"net/http"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	overallStatusOK       = "ok"
	overallStatusDegraded = "degraded"
	overallStatusCritical = "critical"

	dependencyStatusUp       = "up"
	dependencyStatusDown     = "down"
	dependencyStatusDisabled = "disabled"

	defaultServiceName = "Faltas API"
	defaultVersion     = "1.0.0"
	defaultTimeout     = 1500 * time.Millisecond
)

// ErrProbeDisabled marks a dependency that is intentionally not configured.
var ErrProbeDisabled = errors.New("dependency disabled")

// Probe checks one external dependency. A failing critical probe makes the
// whole report critical; any other failure only degrades it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) (map[string]interface{}, error)
}

// StoreStatusProvider reports the in-memory absence store state.
type StoreStatusProvider interface {
	Status() StoreStatus
}

// HealthService builds dependency reports for the health endpoints.
type HealthService struct {
	serviceName string
	version     string
	startTime   time.Time
	timeout     time.Duration
	probes      []Probe
	store       StoreStatusProvider
}

type HealthReport struct {
	Status        string             `json:"status"`
	Service       string             `json:"service"`
	Version       string             `json:"version"`
	Environment   string             `json:"environment"`
	Time          time.Time          `json:"time"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	Uptime        string             `json:"uptime"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Store         *StoreStatus       `json:"store,omitempty"`
	Runtime       RuntimeStats       `json:"runtime"`
	Flags         HealthFlags        `json:"flags"`
}

type DependencyStatus struct {
	Name      string                 `json:"name"`
	Status    string                 `json:"status"`
	LatencyMs int64                  `json:"latency_ms"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type RuntimeStats struct {
	GoVersion      string `json:"go_version"`
	Goroutines     int    `json:"goroutines"`
	HeapAllocBytes uint64 `json:"heap_alloc_bytes"`
	SysBytes       uint64 `json:"sys_bytes"`
	NumGC          uint32 `json:"num_gc"`
}

type HealthFlags struct {
	SkipMigrate   bool `json:"skip_migrate"`
	UseRedisCache bool `json:"use_redis_cache"`
	UseRedisFeed  bool `json:"use_redis_feed"`
}

func NewHealthService(serviceName, version string, probes ...Probe) *HealthService {
	if strings.TrimSpace(serviceName) == "" {
		serviceName = defaultServiceName
	}
	if strings.TrimSpace(version) == "" {
		version = defaultVersion
	}
	return &HealthService{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		timeout:     defaultTimeout,
		probes:      probes,
	}
}

// AddProbe registers another dependency check.
func (s *HealthService) AddProbe(p Probe) {
	s.probes = append(s.probes, p)
}

// SetStore attaches the absence store to the report.
func (s *HealthService) SetStore(store StoreStatusProvider) {
	s.store = store
}

// SetTimeout bounds every probe run.
func (s *HealthService) SetTimeout(d time.Duration) {
	if d > 0 {
		s.timeout = d
	}
}

// Report runs every probe in parallel and folds the results into one status.
func (s *HealthService) Report(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	uptime := time.Since(s.startTime).Round(time.Second)
	report := HealthReport{
		Status:        overallStatusOK,
		Service:       s.serviceName,
		Version:       s.version,
		Environment:   currentEnvironment(),
		Time:          time.Now().UTC(),
		UptimeSeconds: uptime.Seconds(),
		Uptime:        uptime.String(),
		Dependencies:  make([]DependencyStatus, len(s.probes)),
		Runtime:       collectRuntime(),
		Flags:         collectFlags(),
	}

	var g errgroup.Group
	for i, p := range s.probes {
		i, p := i, p
		g.Go(func() error {
			report.Dependencies[i] = runProbe(ctx, p)
			return nil
		})
	}
	_ = g.Wait()

	for i, dep := range report.Dependencies {
		if dep.Status != dependencyStatusDown {
			continue
		}
		if s.probes[i].Critical {
			report.Status = combineStatus(report.Status, overallStatusCritical)
		} else {
			report.Status = combineStatus(report.Status, overallStatusDegraded)
		}
	}

	if s.store != nil {
		status := s.store.Status()
		report.Store = &status
		if status.Error != "" || status.LastLoad.IsZero() {
			report.Status = combineStatus(report.Status, overallStatusDegraded)
		}
	}
	return report
}

// HTTPStatus answers 503 only when a critical dependency is down.
func (s *HealthService) HTTPStatus(status string) int {
	if status == overallStatusCritical {
		return http.StatusServiceUnavailable
	}
	return http.StatusOK
}

func runProbe(ctx context.Context, p Probe) DependencyStatus {
	dep := DependencyStatus{Name: p.Name}
	start := time.Now()
	details, err := p.Check(ctx)
	dep.LatencyMs = time.Since(start).Milliseconds()
	dep.Details = details

	switch {
	case errors.Is(err, ErrProbeDisabled):
		dep.Status = dependencyStatusDisabled
	case err != nil:
		dep.Status = dependencyStatusDown
		dep.Error = err.Error()
	default:
		dep.Status = dependencyStatusUp
	}
	return dep
}

// MySQLProbe pings the gorm connection pool.
func MySQLProbe() Probe {
	return Probe{
		Name:     "mysql",
		Critical: true,
		Check: func(ctx context.Context) (map[string]interface{}, error) {
			if database.DB == nil {
				return nil, errors.New("database connection not initialised")
			}
			sqlDB, err := database.DB.DB()
			if err != nil {
				return nil, err
			}
			if err := sqlDB.PingContext(ctx); err != nil {
				return nil, err
			}
			stats := sqlDB.Stats()
			return map[string]interface{}{
				"open_connections": stats.OpenConnections,
				"in_use":           stats.InUse,
				"idle":             stats.Idle,
				"wait_count":       stats.WaitCount,
			}, nil
		},
	}
}

// RedisProbe pings Redis when the cache or the feed depends on it.
func RedisProbe() Probe {
	return Probe{
		Name: "redis",
		Check: func(ctx context.Context) (map[string]interface{}, error) {
			client := database.GetRedisClient()
			wanted := config.AppConfig != nil && (config.AppConfig.UseRedisCache || config.AppConfig.UseRedisFeed)
			if client == nil {
				if wanted {
					return nil, errors.New("redis client not initialised")
				}
				return nil, ErrProbeDisabled
			}
			if err := client.Ping(ctx).Err(); err != nil {
				if !wanted {
					return nil, ErrProbeDisabled
				}
				return nil, err
			}
			return map[string]interface{}{"address": client.Options().Addr}, nil
		},
	}
}

func collectRuntime() RuntimeStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeStats{
		GoVersion:      runtime.Version(),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		SysBytes:       mem.Sys,
		NumGC:          mem.NumGC,
	}
}

func collectFlags() HealthFlags {
	if config.AppConfig == nil {
		return HealthFlags{}
	}
	return HealthFlags{
		SkipMigrate:   config.AppConfig.SkipMigrate,
		UseRedisCache: config.AppConfig.UseRedisCache,
		UseRedisFeed:  config.AppConfig.UseRedisFeed,
	}
}

func currentEnvironment() string {
	if config.AppConfig == nil || strings.TrimSpace(config.AppConfig.AppEnv) == "" {
		return "unknown"
	}
	return config.AppConfig.AppEnv
}

var statusRank = map[string]int{
	overallStatusOK:       0,
	overallStatusDegraded: 1,
	overallStatusCritical: 2,
}

func combineStatus(current, candidate string) string {
	if statusRank[candidate] > statusRank[current] {
		return candidate
	}
	return current
}
