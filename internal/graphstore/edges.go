package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/metrics"
)

const edgeColumns = `id, source, target, relation, confidence, provenance, properties,
       status, evidence_count, embedding, expires_at, created_at, updated_at`

// UpsertEdge merges the edge keyed by (source, target, relation).
// Re-ingesting the same triple updates the existing record, never
// duplicates it; the returned id is the stored record's id.
func (s *Store) UpsertEdge(ctx context.Context, e *apptype.Edge) (id string, merged bool, err error) {
	done := metrics.TimeOp("graph_upsert_edge")
	success := false
	defer func() { done(success) }()

	if s.gate.Edge != nil {
		if err := s.gate.Edge(e); err != nil {
			return "", false, err
		}
	}

	now := time.Now().Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("failed to begin transaction for edge %s->%s: %w", e.Source, e.Target, err)
	}
	defer tx.Rollback()

	var existingID, existingProps string
	var existingEvidence int
	row := tx.QueryRowContext(ctx,
		"SELECT id, properties, evidence_count FROM edges WHERE source = ? AND target = ? AND relation = ?",
		e.Source, e.Target, e.Relation)
	switch scanErr := row.Scan(&existingID, &existingProps, &existingEvidence); {
	case scanErr == sql.ErrNoRows:
		props := []byte("{}")
		if e.Properties != nil {
			if props, err = json.Marshal(e.Properties); err != nil {
				return "", false, fmt.Errorf("failed to marshal edge properties: %w", err)
			}
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO edges
            (id, source, target, relation, confidence, provenance, properties, status, evidence_count, embedding, expires_at, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Source, e.Target, e.Relation, e.Confidence, e.Provenance, string(props),
			string(defaultTier(e.Status)), maxInt(e.EvidenceCount, 1),
			encodeVector(e.Embedding), unixOrNil(e.ExpiresAt), now, now)
		if err != nil {
			return "", false, fmt.Errorf("failed to insert edge (%s -> %s): %w", e.Source, e.Target, err)
		}
		id = e.ID
	case scanErr != nil:
		return "", false, fmt.Errorf("failed to probe edge (%s -> %s): %w", e.Source, e.Target, scanErr)
	default:
		merged = true
		id = existingID
		union := map[string]any{}
		if existingProps != "" {
			if uErr := json.Unmarshal([]byte(existingProps), &union); uErr != nil {
				return "", false, fmt.Errorf("corrupt properties for edge %q: %w", existingID, uErr)
			}
		}
		for k, v := range e.Properties {
			union[k] = v
		}
		props, mErr := json.Marshal(union)
		if mErr != nil {
			return "", false, fmt.Errorf("failed to marshal edge properties: %w", mErr)
		}
		_, err = tx.ExecContext(ctx, `UPDATE edges SET
            confidence = ?, provenance = ?, properties = ?, status = ?,
            evidence_count = ?, embedding = ?, expires_at = ?, updated_at = ?
            WHERE id = ?`,
			e.Confidence, e.Provenance, string(props), string(defaultTier(e.Status)),
			existingEvidence+1, encodeVector(e.Embedding), unixOrNil(e.ExpiresAt), now, existingID)
		if err != nil {
			return "", false, fmt.Errorf("failed to update edge %q: %w", existingID, err)
		}
		e.ID = existingID
		e.EvidenceCount = existingEvidence + 1
	}

	if err := tx.Commit(); err != nil {
		return "", false, err
	}
	success = true
	return id, merged, nil
}

// GetEdge retrieves a single edge by id.
func (s *Store) GetEdge(ctx context.Context, id string) (*apptype.Edge, error) {
	stmt, err := s.getPreparedStmt(ctx, "SELECT "+edgeColumns+" FROM edges WHERE id = ?")
	if err != nil {
		return nil, err
	}
	e, err := scanEdge(stmt.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("edge %q: %w", id, apptype.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan edge %q: %w", id, err)
	}
	return e, nil
}

// IncomingEdges returns edges pointing at the target node, optionally
// filtered to a set of relation types, highest confidence first.
func (s *Store) IncomingEdges(ctx context.Context, targetID string, relations []string) ([]*apptype.Edge, error) {
	query := "SELECT " + edgeColumns + " FROM edges WHERE target = ?"
	args := []any{targetID}
	if len(relations) > 0 {
		placeholders := strings.Repeat("?,", len(relations))
		query += fmt.Sprintf(" AND relation IN (%s)", placeholders[:len(placeholders)-1])
		for _, r := range relations {
			args = append(args, r)
		}
	}
	query += " ORDER BY confidence DESC, created_at ASC, id ASC"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incoming edges for %q: %w", targetID, err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// EdgesForNodes retrieves every edge touching any of the given node ids.
func (s *Store) EdgesForNodes(ctx context.Context, ids []string) ([]*apptype.Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	query := fmt.Sprintf("SELECT "+edgeColumns+" FROM edges WHERE source IN (%s) OR target IN (%s)", placeholders, placeholders)
	args := make([]any, 0, len(ids)*2)
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query edges for nodes: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// DeleteEdge deletes an edge by id.
func (s *Store) DeleteEdge(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM edges WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete edge %q: %w", id, err)
	}
	return requireAffected(res, id)
}

// SetEdgeTier updates the tier fields of an edge.
func (s *Store) SetEdgeTier(ctx context.Context, id string, tier apptype.Tier, expires *time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE edges SET status = ?, expires_at = ?, updated_at = ? WHERE id = ?",
		string(tier), unixOrNil(expires), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set tier for edge %q: %w", id, err)
	}
	return requireAffected(res, id)
}

// SetEdgeConfidence updates confidence and evidence count.
func (s *Store) SetEdgeConfidence(ctx context.Context, id string, confidence float64, evidence int) error {
	res, err := s.db.ExecContext(ctx, "UPDATE edges SET confidence = ?, evidence_count = ?, updated_at = ? WHERE id = ?",
		confidence, evidence, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set confidence for edge %q: %w", id, err)
	}
	return requireAffected(res, id)
}

// ExpiredEdgeIDs lists non-canonical edges whose TTL elapsed before now.
func (s *Store) ExpiredEdgeIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM edges WHERE status != ? AND expires_at IS NOT NULL AND expires_at < ?",
		string(apptype.TierCanonical), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired edges: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanEdge(row rowScanner) (*apptype.Edge, error) {
	var e apptype.Edge
	var props, status string
	var embedding []byte
	var expires sql.NullInt64
	var created, updated int64
	if err := row.Scan(&e.ID, &e.Source, &e.Target, &e.Relation, &e.Confidence, &e.Provenance,
		&props, &status, &e.EvidenceCount, &embedding, &expires, &created, &updated); err != nil {
		return nil, err
	}
	e.Status = apptype.Tier(status)
	if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
		return nil, fmt.Errorf("corrupt properties for edge %q: %w", e.ID, err)
	}
	vec, err := decodeVector(embedding)
	if err != nil {
		return nil, fmt.Errorf("corrupt embedding for edge %q: %w", e.ID, err)
	}
	e.Embedding = vec
	if expires.Valid {
		t := time.Unix(expires.Int64, 0)
		e.ExpiresAt = &t
	}
	e.CreatedAt = time.Unix(created, 0)
	e.UpdatedAt = time.Unix(updated, 0)
	return &e, nil
}

func scanEdges(rows *sql.Rows) ([]*apptype.Edge, error) {
	var out []*apptype.Edge
	for rows.Next() {
		e, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
