package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Milestone marks a one-time achievement for a user, such as the first
// completed task or the first fully completed module.
type Milestone struct {
	UserID      string
	Kind        string
	Value       string
	AchievedAt  time.Time
	Description string
}

// MilestoneRepo provides durable access to milestones.
type MilestoneRepo interface {
	// Achieve records a milestone unless the user already holds one of
	// the same kind. Returns true if the milestone was newly recorded.
	Achieve(ctx context.Context, m *Milestone) (bool, error)

	// ListByUser returns a user's milestones, newest first.
	ListByUser(ctx context.Context, userID string) ([]*Milestone, error)
}

type milestoneRepo struct {
	db *sql.DB
}

func (r *milestoneRepo) Achieve(ctx context.Context, m *Milestone) (bool, error) {
	const stmt = `
INSERT INTO milestones (user_id, kind, value, achieved_at, description)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(user_id, kind) DO NOTHING;
`
	res, err := r.db.ExecContext(ctx, stmt,
		m.UserID, m.Kind, m.Value,
		m.AchievedAt.UTC().Format(time.RFC3339),
		nullStr(m.Description),
	)
	if err != nil {
		return false, fmt.Errorf("achieve milestone: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("milestone rows affected: %w", err)
	}
	return n > 0, nil
}

func (r *milestoneRepo) ListByUser(ctx context.Context, userID string) ([]*Milestone, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT user_id, kind, value, achieved_at, description
FROM milestones
WHERE user_id = ?
ORDER BY achieved_at DESC, id DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	defer rows.Close()

	var ms []*Milestone
	for rows.Next() {
		var (
			m          Milestone
			achievedAt string
			desc       sql.NullString
		)
		if err := rows.Scan(&m.UserID, &m.Kind, &m.Value, &achievedAt, &desc); err != nil {
			return nil, fmt.Errorf("scan milestone: %w", err)
		}
		t, err := time.Parse(time.RFC3339, achievedAt)
		if err != nil {
			return nil, fmt.Errorf("parse achieved_at: %w", err)
		}
		m.AchievedAt = t
		m.Description = desc.String
		ms = append(ms, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate milestones: %w", err)
	}
	return ms, nil
}
