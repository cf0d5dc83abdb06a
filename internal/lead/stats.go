package lead

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/cache"
)

const statsGenKey = "stats:gen"

// Stats returns dashboard counts for the leads visible to scope. Results
// are cached per scope until the next write.
func (s *Service) Stats(ctx context.Context, scope auth.Principal) (*Stats, error) {
	key := s.statsKey(ctx, scope)

	var cached Stats
	if ok, err := cache.GetJSON(ctx, s.cache, key, &cached); err != nil {
		logger(ctx).Warn().Err(err).Str("key", key).Msg("reading stats cache")
	} else if ok {
		return &cached, nil
	}

	st, err := s.loadStats(ctx, scope)
	if err != nil {
		return nil, err
	}
	if err := cache.SetJSON(ctx, s.cache, key, st, s.statsTTL); err != nil {
		logger(ctx).Warn().Err(err).Str("key", key).Msg("writing stats cache")
	}
	return st, nil
}

func (s *Service) loadStats(ctx context.Context, scope auth.Principal) (*Stats, error) {
	cond, args := visibility(scope)
	st := &Stats{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q := s.db.Rebind("SELECT COUNT(*)" + fromLeads + " WHERE " + cond)
		if err := s.db.GetContext(gctx, &st.Total, q, args...); err != nil {
			return fmt.Errorf("counting leads: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		q := s.db.Rebind("SELECT COUNT(*)" + fromLeads + " WHERE " + cond + " AND l.assigned_to IS NULL")
		if err := s.db.GetContext(gctx, &st.Unassigned, q, args...); err != nil {
			return fmt.Errorf("counting unassigned leads: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var rows []StatusCount
		q := s.db.Rebind("SELECT l.status, COUNT(*) AS n" + fromLeads + " WHERE " + cond + " GROUP BY l.status")
		if err := s.db.SelectContext(gctx, &rows, q, args...); err != nil {
			return fmt.Errorf("counting leads by status: %w", err)
		}
		counts := make(map[Status]int, len(rows))
		for _, r := range rows {
			counts[r.Status] = r.Count
		}
		st.ByStatus = make([]StatusCount, len(Statuses))
		for i, status := range Statuses {
			st.ByStatus[i] = StatusCount{Status: status, Label: status.Label(), Count: counts[status]}
		}
		return nil
	})
	g.Go(func() error {
		st.ByAssignee = []AssigneeCount{}
		q := s.db.Rebind(`SELECT l.assigned_to AS profile_id,
			COALESCE(NULLIF(p.display_name, ''), p.username, '') AS name, COUNT(*) AS n` +
			fromLeads + " WHERE " + cond + ` AND l.assigned_to IS NOT NULL
			GROUP BY l.assigned_to, p.display_name, p.username ORDER BY n DESC, l.assigned_to`)
		if err := s.db.SelectContext(gctx, &st.ByAssignee, q, args...); err != nil {
			return fmt.Errorf("counting leads by assignee: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Service) statsKey(ctx context.Context, scope auth.Principal) string {
	gen := "0"
	if raw, ok, err := s.cache.Get(ctx, statsGenKey); err == nil && ok {
		gen = string(raw)
	}
	who := "admin"
	if !scope.IsAdmin() {
		who = "sales:" + strconv.FormatInt(scope.ProfileID, 10)
	}
	return "stats:" + gen + ":" + who
}

// invalidateStats moves every scope to a fresh cache generation.
func (s *Service) invalidateStats(ctx context.Context) {
	gen := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := s.cache.Set(ctx, statsGenKey, []byte(gen), 0); err != nil {
		logger(ctx).Warn().Err(err).Msg("invalidating stats cache")
	}
}
