package jobs

import (
	"context"
	"fmt"
	"time"
)

// Cleaner deletes expired rows.
type Cleaner interface {
	Cleanup(ctx context.Context) (int64, error)
}

// BannerExpirer switches off expired banners.
type BannerExpirer interface {
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// TrashPurger permanently removes old soft-deleted leads.
type TrashPurger interface {
	PurgeDeleted(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Pruner forgets idle rate-limit state.
type Pruner interface {
	Prune() int
}

// Sweeper drops expired entries from an in-process cache.
type Sweeper interface {
	Sweep() int
}

// Maintenance is the set of housekeeping tasks run by the server.
type Maintenance struct {
	Sessions       Cleaner
	ResetTokens    Cleaner
	Limiter        Pruner
	Banners        BannerExpirer
	Leads          TrashPurger
	Cache          Sweeper
	TrashRetention time.Duration
	Now            func() time.Time
}

// Register schedules the maintenance jobs on s: hourly credential
// cleanup, banner expiry and cache sweeping every five minutes and a
// nightly trash purge.
func (m Maintenance) Register(s *Scheduler) error {
	if m.Now == nil {
		m.Now = time.Now
	}
	if err := s.Add("cleanup", "@hourly", m.Cleanup); err != nil {
		return err
	}
	if err := s.Add("banners", "@every 5m", m.ExpireBanners); err != nil {
		return err
	}
	if err := s.Add("cache", "@every 5m", m.SweepCache); err != nil {
		return err
	}
	return s.Add("trash", "30 3 * * *", m.PurgeTrash)
}

// Cleanup removes expired sessions and reset tokens and prunes the login
// limiter.
func (m Maintenance) Cleanup(ctx context.Context) error {
	log := loggerFrom(ctx)
	if m.Sessions != nil {
		n, err := m.Sessions.Cleanup(ctx)
		if err != nil {
			return fmt.Errorf("cleaning sessions: %w", err)
		}
		log.Info().Int64("sessions", n).Msg("expired sessions removed")
	}
	if m.ResetTokens != nil {
		n, err := m.ResetTokens.Cleanup(ctx)
		if err != nil {
			return fmt.Errorf("cleaning reset tokens: %w", err)
		}
		log.Info().Int64("tokens", n).Msg("expired reset tokens removed")
	}
	if m.Limiter != nil {
		m.Limiter.Prune()
	}
	return nil
}

// ExpireBanners deactivates banners past their expiry.
func (m Maintenance) ExpireBanners(ctx context.Context) error {
	if m.Banners == nil {
		return nil
	}
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	n, err := m.Banners.DeactivateExpired(ctx, now())
	if err != nil {
		return fmt.Errorf("expiring banners: %w", err)
	}
	if n > 0 {
		loggerFrom(ctx).Info().Int64("banners", n).Msg("expired banners deactivated")
	}
	return nil
}

// SweepCache frees expired cache entries. Superseded stats generations
// are never read again, so lazy expiry alone would keep them forever.
func (m Maintenance) SweepCache(ctx context.Context) error {
	if m.Cache == nil {
		return nil
	}
	if n := m.Cache.Sweep(); n > 0 {
		loggerFrom(ctx).Debug().Int("entries", n).Msg("expired cache entries swept")
	}
	return nil
}

// PurgeTrash removes leads deleted longer than the retention ago. A zero
// retention disables purging.
func (m Maintenance) PurgeTrash(ctx context.Context) error {
	if m.Leads == nil || m.TrashRetention <= 0 {
		return nil
	}
	n, err := m.Leads.PurgeDeleted(ctx, m.TrashRetention)
	if err != nil {
		return fmt.Errorf("purging trash: %w", err)
	}
	loggerFrom(ctx).Info().Int64("leads", n).Msg("trash purged")
	return nil
}
