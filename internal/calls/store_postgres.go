package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"callbridge/internal/phone"
)

// NOTE: This store assumes the following tables exist:
// - call_records   with UNIQUE (provider, provider_call_id)
// - phone_mappings
// - call_annotations
//
// The unique constraint on (provider, provider_call_id) is the serialization
// point for concurrent webhook delivery: Upsert is a single
// INSERT ... ON CONFLICT DO UPDATE, so the conflict path IS the merge path
// and no application-level locking is needed.

type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

const callColumns = `
id, company_id, COALESCE(employee_id,''), COALESCE(lead_id,''), source, status,
provider, provider_call_id,
from_number, to_number, from_normalized, to_normalized,
COALESCE(mapped_number,''), mapping_status,
COALESCE(contact_name,''), COALESCE(contact_phone,''),
duration_seconds, COALESCE(recording_id,''), COALESCE(recording_url,''),
call_started_at, call_ended_at, created_at, updated_at
`

func (s *PostgresStore) Upsert(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if rec.Provider == "" || rec.ProviderCallID == "" {
		return CallRecord{}, errors.New("provider and provider_call_id required")
	}
	if rec.CompanyID == "" {
		return CallRecord{}, errors.New("company_id required")
	}

	now := s.clock().UTC()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	// Non-empty-wins merge. company_id is ground truth once set: the stored
	// value always survives so one call can never migrate across tenants.
	const q = `
INSERT INTO call_records (
  id, company_id, employee_id, lead_id, source, status,
  provider, provider_call_id,
  from_number, to_number, from_normalized, to_normalized,
  mapped_number, mapping_status, contact_name, contact_phone,
  duration_seconds, recording_id, recording_url,
  call_started_at, call_ended_at, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$22
)
ON CONFLICT (provider, provider_call_id) DO UPDATE SET
  employee_id      = COALESCE(NULLIF(EXCLUDED.employee_id,''), call_records.employee_id),
  lead_id          = COALESCE(NULLIF(EXCLUDED.lead_id,''), call_records.lead_id),
  source           = COALESCE(NULLIF(EXCLUDED.source,''), call_records.source),
  status           = COALESCE(NULLIF(EXCLUDED.status,''), call_records.status),
  from_number      = COALESCE(NULLIF(EXCLUDED.from_number,''), call_records.from_number),
  to_number        = COALESCE(NULLIF(EXCLUDED.to_number,''), call_records.to_number),
  from_normalized  = COALESCE(NULLIF(EXCLUDED.from_normalized,''), call_records.from_normalized),
  to_normalized    = COALESCE(NULLIF(EXCLUDED.to_normalized,''), call_records.to_normalized),
  mapped_number    = COALESCE(NULLIF(EXCLUDED.mapped_number,''), call_records.mapped_number),
  mapping_status   = COALESCE(NULLIF(EXCLUDED.mapping_status,''), call_records.mapping_status),
  contact_name     = COALESCE(NULLIF(EXCLUDED.contact_name,''), call_records.contact_name),
  contact_phone    = COALESCE(NULLIF(EXCLUDED.contact_phone,''), call_records.contact_phone),
  duration_seconds = CASE WHEN EXCLUDED.duration_seconds > 0 THEN EXCLUDED.duration_seconds ELSE call_records.duration_seconds END,
  recording_id     = COALESCE(NULLIF(EXCLUDED.recording_id,''), call_records.recording_id),
  recording_url    = COALESCE(NULLIF(EXCLUDED.recording_url,''), call_records.recording_url),
  call_started_at  = COALESCE(EXCLUDED.call_started_at, call_records.call_started_at),
  call_ended_at    = COALESCE(EXCLUDED.call_ended_at, call_records.call_ended_at),
  updated_at       = EXCLUDED.updated_at
RETURNING ` + callColumns + `
`
	row := s.db.QueryRowContext(ctx, q,
		rec.ID,
		rec.CompanyID,
		rec.EmployeeID,
		rec.LeadID,
		rec.Source,
		rec.Status,
		rec.Provider,
		rec.ProviderCallID,
		rec.FromNumber,
		rec.ToNumber,
		rec.FromNormalized,
		rec.ToNormalized,
		rec.MappedNumber,
		rec.MappingStatus,
		rec.ContactName,
		rec.ContactPhone,
		rec.DurationSecs,
		rec.RecordingID,
		rec.RecordingURL,
		rec.StartedAt,
		rec.EndedAt,
		now,
	)
	return scanCall(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (CallRecord, error) {
	var rec CallRecord
	err := row.Scan(
		&rec.ID,
		&rec.CompanyID,
		&rec.EmployeeID,
		&rec.LeadID,
		&rec.Source,
		&rec.Status,
		&rec.Provider,
		&rec.ProviderCallID,
		&rec.FromNumber,
		&rec.ToNumber,
		&rec.FromNormalized,
		&rec.ToNormalized,
		&rec.MappedNumber,
		&rec.MappingStatus,
		&rec.ContactName,
		&rec.ContactPhone,
		&rec.DurationSecs,
		&rec.RecordingID,
		&rec.RecordingURL,
		&rec.StartedAt,
		&rec.EndedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}

func (s *PostgresStore) GetByProviderCallID(ctx context.Context, provider, providerCallID string) (CallRecord, bool, error) {
	const q = `
SELECT ` + callColumns + `
FROM call_records
WHERE provider = $1 AND provider_call_id = $2
`
	rec, err := scanCall(s.db.QueryRowContext(ctx, q, provider, providerCallID))
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, false, nil
	}
	if err != nil {
		return CallRecord{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, companyID, id string) (CallRecord, bool, error) {
	if companyID == "" {
		return CallRecord{}, false, errors.New("company_id required")
	}
	const q = `
SELECT ` + callColumns + `
FROM call_records
WHERE company_id = $1 AND id = $2
`
	rec, err := scanCall(s.db.QueryRowContext(ctx, q, companyID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, false, nil
	}
	if err != nil {
		return CallRecord{}, false, err
	}
	return rec, true, nil
}

func (s *PostgresStore) List(ctx context.Context, companyID string, f ListFilter) (CallPage, error) {
	if companyID == "" {
		return CallPage{}, errors.New("company_id required")
	}
	f = f.normalize()

	where := []string{"company_id = $1"}
	args := []any{companyID}

	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.EmployeeID != "" {
		add("employee_id = $%d", f.EmployeeID)
	}
	if f.LeadID != "" {
		add("lead_id = $%d", f.LeadID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.MappingStatus != "" {
		add("mapping_status = $%d", f.MappingStatus)
	}
	if f.Source != "" {
		add("source = $%d", f.Source)
	}
	if f.PhoneSuffix != "" {
		suffix := phone.Normalize(f.PhoneSuffix)
		if suffix == "" {
			return CallPage{Records: []CallRecord{}, Page: f.Page, PerPage: f.PerPage}, nil
		}
		args = append(args, suffix)
		n := len(args)
		where = append(where, fmt.Sprintf(
			"(from_normalized LIKE '%%' || $%d OR to_normalized LIKE '%%' || $%d OR mapped_number LIKE '%%' || $%d OR contact_phone LIKE '%%' || $%d)",
			n, n, n, n))
	}
	if f.DurationMin > 0 {
		add("duration_seconds >= $%d", f.DurationMin)
	}
	if f.DurationMax > 0 {
		add("duration_seconds <= $%d", f.DurationMax)
	}
	if f.DateFrom != nil {
		add("created_at >= $%d", *f.DateFrom)
	}
	if f.DateTo != nil {
		add("created_at <= $%d", *f.DateTo)
	}

	cond := strings.Join(where, " AND ")

	var total int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM call_records WHERE "+cond, args...,
	).Scan(&total); err != nil {
		return CallPage{}, err
	}

	q := fmt.Sprintf(
		"SELECT %s FROM call_records WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		callColumns, cond, len(args)+1, len(args)+2,
	)
	args = append(args, f.PerPage, (f.Page-1)*f.PerPage)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return CallPage{}, err
	}
	defer rows.Close()

	page := CallPage{Total: total, Page: f.Page, PerPage: f.PerPage, Records: []CallRecord{}}
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return CallPage{}, err
		}
		page.Records = append(page.Records, rec)
	}
	return page, rows.Err()
}

func (s *PostgresStore) ListByLead(ctx context.Context, companyID, leadID string) ([]CallRecord, error) {
	if companyID == "" || leadID == "" {
		return nil, errors.New("company_id and lead_id required")
	}
	const q = `
SELECT ` + callColumns + `
FROM call_records
WHERE company_id = $1 AND lead_id = $2
ORDER BY created_at DESC
`
	rows, err := s.db.QueryContext(ctx, q, companyID, leadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallRecord, 0)
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const mappingColumns = `
id, company_id, employee_id, phone_number, phone_normalized,
COALESCE(label,''), COALESCE(contact_name,''), active, created_at, updated_at
`

func scanMapping(row rowScanner) (PhoneMapping, error) {
	var m PhoneMapping
	err := row.Scan(
		&m.ID,
		&m.CompanyID,
		&m.EmployeeID,
		&m.PhoneNumber,
		&m.PhoneNormalized,
		&m.Label,
		&m.ContactName,
		&m.Active,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

func (s *PostgresStore) FindActiveMappingsByNumber(ctx context.Context, normalized string) ([]PhoneMapping, error) {
	if normalized == "" {
		return nil, errors.New("normalized number required")
	}
	// Cross-company on purpose; the resolver refuses multi-company results.
	const q = `
SELECT ` + mappingColumns + `
FROM phone_mappings
WHERE active AND phone_normalized LIKE '%' || $1
ORDER BY id
LIMIT 50
`
	rows, err := s.db.QueryContext(ctx, q, normalized)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]PhoneMapping, 0)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetActiveMappingForEmployee(ctx context.Context, companyID, employeeID, normalized string) (PhoneMapping, bool, error) {
	if companyID == "" || employeeID == "" || normalized == "" {
		return PhoneMapping{}, false, errors.New("company_id, employee_id and normalized number required")
	}
	const q = `
SELECT ` + mappingColumns + `
FROM phone_mappings
WHERE active AND company_id = $1 AND employee_id = $2 AND phone_normalized LIKE '%' || $3
LIMIT 1
`
	m, err := scanMapping(s.db.QueryRowContext(ctx, q, companyID, employeeID, normalized))
	if errors.Is(err, sql.ErrNoRows) {
		return PhoneMapping{}, false, nil
	}
	if err != nil {
		return PhoneMapping{}, false, err
	}
	return m, true, nil
}

func (s *PostgresStore) ListMappings(ctx context.Context, companyID string) ([]PhoneMapping, error) {
	if companyID == "" {
		return nil, errors.New("company_id required")
	}
	const q = `
SELECT ` + mappingColumns + `
FROM phone_mappings
WHERE company_id = $1
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]PhoneMapping, 0)
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetMapping(ctx context.Context, companyID, id string) (PhoneMapping, bool, error) {
	const q = `
SELECT ` + mappingColumns + `
FROM phone_mappings
WHERE company_id = $1 AND id = $2
`
	m, err := scanMapping(s.db.QueryRowContext(ctx, q, companyID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return PhoneMapping{}, false, nil
	}
	if err != nil {
		return PhoneMapping{}, false, err
	}
	return m, true, nil
}

func (s *PostgresStore) CreateMapping(ctx context.Context, m PhoneMapping) (PhoneMapping, error) {
	if m.CompanyID == "" || m.EmployeeID == "" || m.PhoneNormalized == "" {
		return PhoneMapping{}, errors.New("company_id, employee_id and phone required")
	}
	now := s.clock().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	const q = `
INSERT INTO phone_mappings (
  id, company_id, employee_id, phone_number, phone_normalized,
  label, contact_name, active, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
RETURNING ` + mappingColumns + `
`
	return scanMapping(s.db.QueryRowContext(ctx, q,
		m.ID, m.CompanyID, m.EmployeeID, m.PhoneNumber, m.PhoneNormalized,
		m.Label, m.ContactName, m.Active, now,
	))
}

func (s *PostgresStore) UpdateMapping(ctx context.Context, m PhoneMapping) (PhoneMapping, error) {
	const q = `
UPDATE phone_mappings
SET phone_number = $3, phone_normalized = $4, label = $5, contact_name = $6,
    active = $7, employee_id = $8, updated_at = $9
WHERE company_id = $1 AND id = $2
RETURNING ` + mappingColumns + `
`
	out, err := scanMapping(s.db.QueryRowContext(ctx, q,
		m.CompanyID, m.ID, m.PhoneNumber, m.PhoneNormalized, m.Label,
		m.ContactName, m.Active, m.EmployeeID, s.clock().UTC(),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return PhoneMapping{}, ErrNotFound
	}
	return out, err
}

func (s *PostgresStore) DeleteMapping(ctx context.Context, companyID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM phone_mappings WHERE company_id = $1 AND id = $2", companyID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

const annotationColumns = `
id, company_id, call_id, user_id, body, created_at, updated_at
`

func scanAnnotation(row rowScanner) (CallAnnotation, error) {
	var a CallAnnotation
	err := row.Scan(&a.ID, &a.CompanyID, &a.CallID, &a.UserID, &a.Body, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func (s *PostgresStore) AddAnnotation(ctx context.Context, a CallAnnotation) (CallAnnotation, error) {
	if a.CompanyID == "" || a.CallID == "" || a.UserID == "" {
		return CallAnnotation{}, errors.New("company_id, call_id and user_id required")
	}
	now := s.clock().UTC()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	const q = `
INSERT INTO call_annotations (id, company_id, call_id, user_id, body, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$6)
RETURNING ` + annotationColumns + `
`
	return scanAnnotation(s.db.QueryRowContext(ctx, q, a.ID, a.CompanyID, a.CallID, a.UserID, a.Body, now))
}

func (s *PostgresStore) UpdateAnnotation(ctx context.Context, a CallAnnotation) (CallAnnotation, bool, error) {
	const q = `
UPDATE call_annotations
SET body = $5, updated_at = $6
WHERE company_id = $1 AND call_id = $2 AND id = $3 AND user_id = $4
RETURNING ` + annotationColumns + `
`
	out, err := scanAnnotation(s.db.QueryRowContext(ctx, q,
		a.CompanyID, a.CallID, a.ID, a.UserID, a.Body, s.clock().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return CallAnnotation{}, false, nil
	}
	if err != nil {
		return CallAnnotation{}, false, err
	}
	return out, true, nil
}

func (s *PostgresStore) ListAnnotations(ctx context.Context, companyID, callID string) ([]CallAnnotation, error) {
	const q = `
SELECT ` + annotationColumns + `
FROM call_annotations
WHERE company_id = $1 AND call_id = $2
ORDER BY created_at
`
	rows, err := s.db.QueryContext(ctx, q, companyID, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]CallAnnotation, 0)
	for rows.Next() {
		a, err := scanAnnotation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
