package orchestrator

import (
	"context"
	"database/sql"
	"time"

	commonerrors "memberdeals-notifications/internal/common/errors"
)

// Contact is a resolvable notification recipient.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// PlanMembership joins a contact with their current plan, used by the
// expiry-check and monthly-renewal jobs.
type PlanMembership struct {
	Contact
	PlanName        string    `json:"planName"`
	DealLimit       int       `json:"dealLimit"`
	RedemptionLimit int       `json:"redemptionLimit"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

// Directory resolves recipients and template data from business records.
// The pipeline only ever reads through it; writes to users, plans and deals
// belong to the platform's request handlers.
type Directory interface {
	ActiveUserContacts(ctx context.Context) ([]Contact, error)
	AdminContacts(ctx context.Context) ([]Contact, error)
	ExpiringPlans(ctx context.Context, within time.Duration) ([]PlanMembership, error)
	ActivePlanMembers(ctx context.Context) ([]PlanMembership, error)
}

// PostgresDirectory reads recipients from the platform's relational tables.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) ActiveUserContacts(ctx context.Context) ([]Contact, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT name, email FROM users
		WHERE role = 'user' AND status = 'active'
		ORDER BY created_at`)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("active user lookup", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (d *PostgresDirectory) AdminContacts(ctx context.Context) ([]Contact, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT name, email FROM users
		WHERE role = 'admin' AND status = 'active'
		ORDER BY created_at`)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("admin lookup", err)
	}
	defer rows.Close()
	return scanContacts(rows)
}

func (d *PostgresDirectory) ExpiringPlans(ctx context.Context, within time.Duration) ([]PlanMembership, error) {
	cutoff := time.Now().UTC().Add(within)
	rows, err := d.db.QueryContext(ctx, `
		SELECT u.name, u.email, p.name, p.deal_limit, p.redemption_limit, up.expires_at
		FROM user_plans up
		JOIN users u ON u.id = up.user_id
		JOIN plans p ON p.id = up.plan_id
		WHERE up.status = 'active'
		  AND up.expires_at IS NOT NULL
		  AND up.expires_at BETWEEN NOW() AND $1
		ORDER BY up.expires_at`,
		cutoff,
	)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("expiring plan lookup", err)
	}
	defer rows.Close()
	return scanMemberships(rows)
}

func (d *PostgresDirectory) ActivePlanMembers(ctx context.Context) ([]PlanMembership, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT u.name, u.email, p.name, p.deal_limit, p.redemption_limit, COALESCE(up.expires_at, 'epoch'::timestamptz)
		FROM user_plans up
		JOIN users u ON u.id = up.user_id
		JOIN plans p ON p.id = up.plan_id
		WHERE up.status = 'active'
		ORDER BY u.created_at`)
	if err != nil {
		return nil, commonerrors.NewQueryExecutionFailedError("active plan member lookup", err)
	}
	defer rows.Close()
	return scanMemberships(rows)
}

func scanContacts(rows *sql.Rows) ([]Contact, error) {
	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Name, &c.Email); err != nil {
			return nil, commonerrors.NewQueryExecutionFailedError("contact scan", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanMemberships(rows *sql.Rows) ([]PlanMembership, error) {
	var out []PlanMembership
	for rows.Next() {
		var m PlanMembership
		if err := rows.Scan(&m.Name, &m.Email, &m.PlanName, &m.DealLimit, &m.RedemptionLimit, &m.ExpiresAt); err != nil {
			return nil, commonerrors.NewQueryExecutionFailedError("plan membership scan", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
