package marine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"go.trai.ch/zerr"

	"github.com/macho715/marine-weather-dashboard/internal/guardedfetch"
	"github.com/macho715/marine-weather-dashboard/internal/snapshot"
	"github.com/macho715/marine-weather-dashboard/internal/upstream"
)

// Fetcher is satisfied by *guardedfetch.Client.
type Fetcher interface {
	Fetch(ctx context.Context, target guardedfetch.Target, opts ...guardedfetch.Option) (*guardedfetch.Response, error)
}

// Report is what dashboards receive for one port.
type Report struct {
	Port Port
	Conditions
	FetchedAt time.Time
	Cached    bool
	Stale     bool
}

type ServiceConfig struct {
	Catalog *Catalog
	Pool    *upstream.Pool
	Fetcher Fetcher
	Cache   *snapshot.Cache[Conditions]
	Policy  guardedfetch.Policy
	Logger  *slog.Logger
	Clock   clockwork.Clock
}

type Service struct {
	catalog *Catalog
	pool    *upstream.Pool
	fetcher Fetcher
	cache   *snapshot.Cache[Conditions]
	policy  guardedfetch.Policy
	logger  *slog.Logger
	clock   clockwork.Clock
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &Service{
		catalog: cfg.Catalog,
		pool:    cfg.Pool,
		fetcher: cfg.Fetcher,
		cache:   cfg.Cache,
		policy:  cfg.Policy,
		logger:  cfg.Logger,
		clock:   cfg.Clock,
	}
}

func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Snapshot returns conditions for code, refreshing through the provider chain
// when the cached snapshot has expired. An empty code selects the default port.
func (s *Service) Snapshot(ctx context.Context, code string) (Report, error) {
	port, err := s.catalog.Resolve(code)
	if err != nil {
		return Report{}, err
	}

	res, err := s.cache.GetSnapshot(ctx, port.Code, func(ctx context.Context) (Conditions, error) {
		return s.refresh(ctx, port)
	})
	if err != nil {
		return Report{Port: port}, zerr.With(zerr.Wrap(err, "marine snapshot unavailable"), "port", port.Code)
	}

	return Report{
		Port:       port,
		Conditions: res.Value,
		FetchedAt:  res.FetchedAt,
		Cached:     res.Cached,
		Stale:      res.Stale,
	}, nil
}

// Warm refreshes every catalog port whose snapshot is missing or expired.
// Failures are logged, not returned, so one bad port does not stop the rest.
func (s *Service) Warm(ctx context.Context) int {
	warmed := 0
	for _, port := range s.catalog.Ports() {
		if ctx.Err() != nil {
			break
		}
		if res, ok := s.cache.Peek(ctx, port.Code); ok && !res.Stale {
			continue
		}
		report, err := s.Snapshot(ctx, port.Code)
		if err != nil {
			s.logger.Warn("Pre-warm failed", "port", port.Code, "error", err)
			continue
		}
		if !report.Stale {
			warmed++
		}
	}
	return warmed
}

func (s *Service) refresh(ctx context.Context, port Port) (Conditions, error) {
	refreshErr := &RefreshError{Port: port.Code}

	for _, p := range s.pool.Candidates() {
		key := p.Name() + ":" + port.Code
		target := OpenMeteoTarget(p.URL(), port)

		p.IncrementInFlight()
		start := s.clock.Now()
		resp, err := s.fetcher.Fetch(ctx, target, guardedfetch.WithKey(key), guardedfetch.WithPolicy(s.policy))
		elapsed := s.clock.Since(start)
		p.DecrementInFlight()

		if err != nil {
			refreshErr.Failures = append(refreshErr.Failures, err)
			if ctx.Err() != nil {
				break
			}
			if !errors.Is(err, guardedfetch.ErrCircuitOpen) && p.SetHealthy(false) {
				s.logger.Warn("Provider is down", "provider", p.Name(), "error", err)
			}
			continue
		}

		conditions, err := ParseOpenMeteo(resp.Body)
		if err != nil {
			s.logger.Warn("Provider returned unusable payload", "provider", p.Name(), "port", port.Code, "error", err)
			refreshErr.Failures = append(refreshErr.Failures, zerr.With(err, "provider", p.Name()))
			continue
		}

		p.RecordResponse(elapsed)
		if p.SetHealthy(true) {
			s.logger.Info("Provider is back up", "provider", p.Name())
		}

		conditions.Source = p.Name()
		s.logger.Debug("Marine snapshot refreshed",
			"port", port.Code,
			"provider", p.Name(),
			"attempts", resp.Attempts,
			"ioi", conditions.IOI,
		)
		return conditions, nil
	}

	return Conditions{}, refreshErr
}
