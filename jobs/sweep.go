package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/warden-authz/warden/internal/jobs"
)

// Sweeper prunes assignment rows that reference deleted entities.
// Only the Postgres backend needs it; the in-memory store is rebuilt
// on every restart.
type Sweeper struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewSweeper constructs a Sweeper instance.
func NewSweeper(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *Sweeper {
	return &Sweeper{pool: pool, logger: logger, metrics: metrics}
}

var sweepStatements = []struct {
	table string
	query string
}{
	{"role_permissions", `DELETE FROM role_permissions rp WHERE NOT EXISTS (SELECT 1 FROM permissions p WHERE p.id = rp.permission_id)`},
	{"group_roles", `DELETE FROM group_roles gr WHERE NOT EXISTS (SELECT 1 FROM roles r WHERE r.id = gr.role_id)`},
	{"principal_roles", `DELETE FROM principal_roles pr WHERE NOT EXISTS (SELECT 1 FROM roles r WHERE r.id = pr.role_id)`},
	{"principal_groups", `DELETE FROM principal_groups pg WHERE NOT EXISTS (SELECT 1 FROM groups g WHERE g.id = pg.group_id)`},
	// Items whose parent row is gone are promoted to roots; resolution
	// already treats the dangling reference as a chain end.
	{"securable_items", `UPDATE securable_items si SET parent_id = NULL WHERE si.parent_id IS NOT NULL AND NOT EXISTS (SELECT 1 FROM securable_items p WHERE p.id = si.parent_id)`},
}

// HandleSweep processes TaskSweepDanglingRefs tasks.
func (s *Sweeper) HandleSweep(ctx context.Context, t *asynq.Task) error {
	tracker := s.metrics.Track("authz_sweep")
	return tracker.End(s.run(ctx))
}

func (s *Sweeper) run(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	for _, stmt := range sweepStatements {
		tag, err := s.pool.Exec(ctx, stmt.query)
		if err != nil {
			return fmt.Errorf("sweep %s: %w", stmt.table, err)
		}
		if pruned := tag.RowsAffected(); pruned > 0 {
			s.metrics.AddPruned(stmt.table, int(pruned))
			if s.logger != nil {
				s.logger.Info("pruned dangling references",
					slog.String("table", stmt.table),
					slog.Int64("rows", pruned))
			}
		}
	}
	return nil
}

// HandleAuditRetention processes TaskAuditRetention tasks.
func (s *Sweeper) HandleAuditRetention(ctx context.Context, t *asynq.Task) error {
	tracker := s.metrics.Track("audit_retention")
	return tracker.End(s.pruneAudit(ctx, t))
}

func (s *Sweeper) pruneAudit(ctx context.Context, t *asynq.Task) error {
	var payload AuditRetentionPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionHours <= 0 {
		return asynq.SkipRetry
	}
	if s.pool == nil {
		return nil
	}
	cutoff := time.Now().UTC().Add(-time.Duration(payload.RetentionHours) * time.Hour)
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_logs WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return fmt.Errorf("prune audit logs: %w", err)
	}
	if s.logger != nil && tag.RowsAffected() > 0 {
		s.logger.Info("pruned audit logs", slog.Int64("rows", tag.RowsAffected()))
	}
	return nil
}
