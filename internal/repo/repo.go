package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ascent/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict means a compare-and-swap write lost the race:
	// the stored version moved past the one the caller read.
	ErrVersionConflict = errors.New("version conflict")
)

const recordColumns = `org_id,milestone_type,status,attempt_count,achieved_at,failed_at,capability_json,alignment_json,research_points_invested,compute_budget_spent,months_in_progress,stance,impact_json,version,created_at,updated_at`

func (r Repo) InsertOrg(ctx context.Context, tx *sql.Tx, o domain.Organization) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO orgs(id,name,stance,created_at) VALUES (?,?,?,?)`,
		o.ID, o.Name, string(o.Stance), o.CreatedAt)
	return err
}

func (r Repo) GetOrg(ctx context.Context, id string) (domain.Organization, error) {
	var o domain.Organization
	var stance string
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,stance,created_at FROM orgs WHERE id=?`, id).
		Scan(&o.ID, &o.Name, &stance, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	o.Stance = domain.AlignmentStance(stance)
	return o, err
}

func (r Repo) ListOrgs(ctx context.Context) ([]domain.Organization, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,stance,created_at FROM orgs ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Organization
	for rows.Next() {
		var o domain.Organization
		var stance string
		if err := rows.Scan(&o.ID, &o.Name, &stance, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Stance = domain.AlignmentStance(stance)
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) InsertRecord(ctx context.Context, tx *sql.Tx, rec domain.ProgressionRecord) error {
	capJSON, alignJSON, impactJSON, err := marshalRecordBlobs(rec)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO progression_records(`+recordColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.OrgID, string(rec.MilestoneType), string(rec.Status), rec.AttemptCount,
		nullableStringPtr(rec.AchievedAt), nullableStringPtr(rec.FailedAt),
		capJSON, alignJSON,
		rec.ResearchPointsInvested, rec.ComputeBudgetSpent, rec.MonthsInProgress,
		string(rec.Stance), impactJSON, rec.Version, rec.CreatedAt, rec.UpdatedAt)
	return err
}

// UpdateRecordCAS writes rec only if the stored version still equals
// fromVersion, bumping the version by one. Zero affected rows means another
// writer got there first.
func (r Repo) UpdateRecordCAS(ctx context.Context, tx *sql.Tx, rec domain.ProgressionRecord, fromVersion int64) (domain.ProgressionRecord, error) {
	capJSON, alignJSON, impactJSON, err := marshalRecordBlobs(rec)
	if err != nil {
		return rec, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE progression_records SET
status=?, attempt_count=?, achieved_at=?, failed_at=?, capability_json=?, alignment_json=?,
research_points_invested=?, compute_budget_spent=?, months_in_progress=?, stance=?, impact_json=?,
version=version+1, updated_at=?
WHERE org_id=? AND milestone_type=? AND version=?`,
		string(rec.Status), rec.AttemptCount,
		nullableStringPtr(rec.AchievedAt), nullableStringPtr(rec.FailedAt),
		capJSON, alignJSON,
		rec.ResearchPointsInvested, rec.ComputeBudgetSpent, rec.MonthsInProgress,
		string(rec.Stance), impactJSON, rec.UpdatedAt,
		rec.OrgID, string(rec.MilestoneType), fromVersion)
	if err != nil {
		return rec, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rec, ErrVersionConflict
	}
	rec.Version = fromVersion + 1
	return rec, nil
}

func (r Repo) GetRecord(ctx context.Context, orgID string, t domain.MilestoneType) (domain.ProgressionRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM progression_records WHERE org_id=? AND milestone_type=?`,
		orgID, string(t))
	return scanRecord(row.Scan)
}

func (r Repo) GetRecordTx(ctx context.Context, tx *sql.Tx, orgID string, t domain.MilestoneType) (domain.ProgressionRecord, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM progression_records WHERE org_id=? AND milestone_type=?`,
		orgID, string(t))
	return scanRecord(row.Scan)
}

func (r Repo) ListRecords(ctx context.Context, orgID string) ([]domain.ProgressionRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+recordColumns+` FROM progression_records WHERE org_id=? ORDER BY milestone_type`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProgressionRecord
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// AchievedSet returns the org's achieved milestone types in one read.
func (r Repo) AchievedSet(ctx context.Context, orgID string) (map[domain.MilestoneType]bool, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT milestone_type FROM progression_records WHERE org_id=? AND status=?`,
		orgID, string(domain.StatusAchieved))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := map[domain.MilestoneType]bool{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		set[domain.MilestoneType(t)] = true
	}
	return set, rows.Err()
}

// AchievedSetTx is AchievedSet inside a transaction, so the gate check and
// the record write observe the same snapshot.
func (r Repo) AchievedSetTx(ctx context.Context, tx *sql.Tx, orgID string) (map[domain.MilestoneType]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT milestone_type FROM progression_records WHERE org_id=? AND status=?`,
		orgID, string(domain.StatusAchieved))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := map[domain.MilestoneType]bool{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		set[domain.MilestoneType(t)] = true
	}
	return set, rows.Err()
}

func scanRecord(scan func(dest ...any) error) (domain.ProgressionRecord, error) {
	var rec domain.ProgressionRecord
	var milestoneType, status, stance, capJSON, alignJSON string
	var achievedAt, failedAt, impactJSON sql.NullString
	err := scan(&rec.OrgID, &milestoneType, &status, &rec.AttemptCount, &achievedAt, &failedAt,
		&capJSON, &alignJSON, &rec.ResearchPointsInvested, &rec.ComputeBudgetSpent, &rec.MonthsInProgress,
		&stance, &impactJSON, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.MilestoneType = domain.MilestoneType(milestoneType)
	rec.Status = domain.Status(status)
	rec.Stance = domain.AlignmentStance(stance)
	if achievedAt.Valid {
		rec.AchievedAt = &achievedAt.String
	}
	if failedAt.Valid {
		rec.FailedAt = &failedAt.String
	}
	if err := json.Unmarshal([]byte(capJSON), &rec.Capability); err != nil {
		return rec, fmt.Errorf("capability json: %w", err)
	}
	if err := json.Unmarshal([]byte(alignJSON), &rec.Alignment); err != nil {
		return rec, fmt.Errorf("alignment json: %w", err)
	}
	if impactJSON.Valid && impactJSON.String != "" {
		var imp domain.ImpactConsequences
		if err := json.Unmarshal([]byte(impactJSON.String), &imp); err != nil {
			return rec, fmt.Errorf("impact json: %w", err)
		}
		rec.Impact = &imp
	}
	return rec, nil
}

func marshalRecordBlobs(rec domain.ProgressionRecord) (capJSON, alignJSON string, impactJSON any, err error) {
	capBytes, err := json.Marshal(rec.Capability)
	if err != nil {
		return "", "", nil, err
	}
	alignBytes, err := json.Marshal(rec.Alignment)
	if err != nil {
		return "", "", nil, err
	}
	impactJSON = nil
	if rec.Impact != nil {
		impactBytes, err := json.Marshal(rec.Impact)
		if err != nil {
			return "", "", nil, err
		}
		impactJSON = string(impactBytes)
	}
	return string(capBytes), string(alignBytes), impactJSON, nil
}

func (r Repo) CountRecordsByStatus(ctx context.Context, orgID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM progression_records WHERE org_id=? GROUP BY status`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, rows.Err()
}

type EventFilters struct {
	OrgID         string
	Type          string
	MilestoneType string
	Limit         int
	Cursor        int64
}

func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.OrgID != "" {
		clauses = append(clauses, "org_id=?")
		args = append(args, f.OrgID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.MilestoneType != "" {
		clauses = append(clauses, "milestone_type=?")
		args = append(args, f.MilestoneType)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,org_id,milestone_type,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var orgID, milestoneType, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &orgID, &milestoneType, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if orgID.Valid {
			e.OrgID = orgID.String
		}
		if milestoneType.Valid {
			e.MilestoneType = milestoneType.String
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
