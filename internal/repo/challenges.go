package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"ascent/internal/domain"
)

const challengeColumns = `id,org_id,milestone_type,scenario,safety_json,capability_json,choice,presented_at,resolved_at`

func (r Repo) InsertChallenge(ctx context.Context, tx *sql.Tx, ch domain.AlignmentChallenge) error {
	safetyJSON, err := json.Marshal(ch.SafetyOption)
	if err != nil {
		return err
	}
	capJSON, err := json.Marshal(ch.CapabilityOption)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO alignment_challenges(`+challengeColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		ch.ID, ch.OrgID, string(ch.MilestoneType), ch.Scenario, string(safetyJSON), string(capJSON),
		nullableChoice(ch.Choice), ch.PresentedAt, nullableStringPtr(ch.ResolvedAt))
	return err
}

// ResolveChallenge records the choice, guarded against double resolution:
// the WHERE clause only matches an unresolved row.
func (r Repo) ResolveChallenge(ctx context.Context, tx *sql.Tx, id string, choice domain.ChallengeChoice, resolvedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE alignment_challenges SET choice=?, resolved_at=? WHERE id=? AND resolved_at IS NULL`,
		string(choice), resolvedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r Repo) GetChallenge(ctx context.Context, id string) (domain.AlignmentChallenge, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM alignment_challenges WHERE id=?`, id)
	return scanChallenge(row.Scan)
}

func (r Repo) GetChallengeTx(ctx context.Context, tx *sql.Tx, id string) (domain.AlignmentChallenge, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM alignment_challenges WHERE id=?`, id)
	return scanChallenge(row.Scan)
}

// ListChallenges returns a record's challenge history in presentation order.
func (r Repo) ListChallenges(ctx context.Context, orgID string, t domain.MilestoneType) ([]domain.AlignmentChallenge, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+challengeColumns+` FROM alignment_challenges WHERE org_id=? AND milestone_type=? ORDER BY presented_at ASC, id ASC`,
		orgID, string(t))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AlignmentChallenge
	for rows.Next() {
		ch, err := scanChallenge(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, ch)
	}
	return res, rows.Err()
}

func scanChallenge(scan func(dest ...any) error) (domain.AlignmentChallenge, error) {
	var ch domain.AlignmentChallenge
	var milestoneType, safetyJSON, capJSON string
	var choice, resolvedAt sql.NullString
	err := scan(&ch.ID, &ch.OrgID, &milestoneType, &ch.Scenario, &safetyJSON, &capJSON, &choice, &ch.PresentedAt, &resolvedAt)
	if err == sql.ErrNoRows {
		return ch, ErrNotFound
	}
	if err != nil {
		return ch, err
	}
	ch.MilestoneType = domain.MilestoneType(milestoneType)
	if err := json.Unmarshal([]byte(safetyJSON), &ch.SafetyOption); err != nil {
		return ch, fmt.Errorf("safety option json: %w", err)
	}
	if err := json.Unmarshal([]byte(capJSON), &ch.CapabilityOption); err != nil {
		return ch, fmt.Errorf("capability option json: %w", err)
	}
	if choice.Valid {
		c := domain.ChallengeChoice(choice.String)
		ch.Choice = &c
	}
	if resolvedAt.Valid {
		ch.ResolvedAt = &resolvedAt.String
	}
	return ch, nil
}

func nullableChoice(c *domain.ChallengeChoice) any {
	if c == nil {
		return nil
	}
	return string(*c)
}
