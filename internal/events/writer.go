package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Writer appends to the events table inside the caller's transaction, so
// state changes and their log entries commit or roll back together.
// Publisher, if set, mirrors committed events to external collaborators.
type Writer struct {
	DB        *sql.DB
	Now       func() time.Time
	Publisher Publisher
}

type EventPayload map[string]any

// Pending is an appended event awaiting its transaction's commit. The caller
// hands it to Mirror once the commit succeeds; a rolled-back transaction's
// pending entries are simply dropped, so the external stream never sees an
// event the events table does not hold.
type Pending struct {
	Type          string
	OrgID         string
	MilestoneType string
	ActorID       string
	TS            string
	PayloadJSON   string
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, orgID, milestoneType, actorID string, payload EventPayload) (Pending, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Pending{}, fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,org_id,milestone_type,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, nullable(orgID), nullable(milestoneType), actorID, string(data))
	if err != nil {
		return Pending{}, err
	}
	return Pending{
		Type:          evtType,
		OrgID:         orgID,
		MilestoneType: milestoneType,
		ActorID:       actorID,
		TS:            ts,
		PayloadJSON:   string(data),
	}, nil
}

// Mirror forwards committed events to the publisher. Call it only after the
// appending transaction has committed.
func (w Writer) Mirror(ctx context.Context, pending ...Pending) {
	if w.Publisher == nil {
		return
	}
	for _, p := range pending {
		w.Publisher.Publish(ctx, p.Type, p.OrgID, p.MilestoneType, p.ActorID, p.TS, p.PayloadJSON)
	}
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
