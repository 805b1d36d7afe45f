package leads

import (
	"context"
	"database/sql"
	"errors"
)

// NOTE: This repository assumes a `leads` table maintained by the wider CRM,
// with `phone_normalized` and `phone_secondary_normalized` columns kept in
// sync on write. The call subsystem only reads it.

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const leadColumns = `
id, company_id, name, phone, COALESCE(phone_secondary, ''),
phone_normalized, COALESCE(phone_secondary_normalized, ''), created_at
`

func (r *PostgresRepo) FindByNumber(ctx context.Context, normalized string) ([]Lead, error) {
	if normalized == "" {
		return nil, errors.New("normalized number required")
	}
	const q = `
SELECT ` + leadColumns + `
FROM leads
WHERE phone_normalized LIKE '%' || $1
   OR phone_secondary_normalized LIKE '%' || $1
ORDER BY created_at
LIMIT 50
`
	return r.query(ctx, q, normalized)
}

func (r *PostgresRepo) FindByNumberInCompany(ctx context.Context, companyID, normalized string) ([]Lead, error) {
	if companyID == "" {
		return nil, errors.New("company_id required")
	}
	if normalized == "" {
		return nil, errors.New("normalized number required")
	}
	const q = `
SELECT ` + leadColumns + `
FROM leads
WHERE company_id = $1
  AND (phone_normalized LIKE '%' || $2 OR phone_secondary_normalized LIKE '%' || $2)
ORDER BY created_at
LIMIT 50
`
	return r.query(ctx, q, companyID, normalized)
}

func (r *PostgresRepo) query(ctx context.Context, q string, args ...any) ([]Lead, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Lead, 0)
	for rows.Next() {
		var l Lead
		if err := rows.Scan(
			&l.ID,
			&l.CompanyID,
			&l.Name,
			&l.Phone,
			&l.PhoneSecondary,
			&l.PhoneNormalized,
			&l.PhoneSecondaryNormalized,
			&l.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
