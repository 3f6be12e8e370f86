package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/apptype"
	"github.com/ZanzyTHEbar/hybrid-kg-go/internal/metrics"
)

const nodeColumns = `id, name, node_type, is_type_def, ancestors, properties,
       status, confidence, evidence_count, embedding, expires_at, created_at, updated_at`

// UpsertNode merges the node into the store keyed by id. Re-applying the
// same write is a no-op beyond the updated timestamp. On merge, non-key
// fields are last-writer-wins and the property map is unioned; the
// evidence count advances by one.
func (s *Store) UpsertNode(ctx context.Context, n *apptype.Node) (merged bool, err error) {
	done := metrics.TimeOp("graph_upsert_node")
	success := false
	defer func() { done(success) }()

	if s.gate.Node != nil {
		if err := s.gate.Node(n); err != nil {
			return false, err
		}
	}

	now := time.Now().Unix()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction for node %q: %w", n.Name, err)
	}
	defer tx.Rollback()

	var existingProps string
	var existingEvidence int
	var createdAt int64
	row := tx.QueryRowContext(ctx, "SELECT properties, evidence_count, created_at FROM nodes WHERE id = ?", n.ID)
	switch scanErr := row.Scan(&existingProps, &existingEvidence, &createdAt); {
	case scanErr == sql.ErrNoRows:
		ancestors, props, mErr := marshalNodeJSON(n)
		if mErr != nil {
			return false, mErr
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO nodes
            (id, name, node_type, is_type_def, ancestors, properties, status, confidence, evidence_count, embedding, expires_at, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			n.ID, n.Name, n.Type, boolToInt(n.IsTypeDefinition), ancestors, props,
			string(defaultTier(n.Status)), n.Confidence, maxInt(n.EvidenceCount, 1),
			encodeVector(n.Embedding), unixOrNil(n.ExpiresAt), now, now)
		if err != nil {
			return false, fmt.Errorf("failed to insert node %q: %w", n.Name, err)
		}
	case scanErr != nil:
		return false, fmt.Errorf("failed to probe node %q: %w", n.ID, scanErr)
	default:
		merged = true
		union := map[string]any{}
		if existingProps != "" {
			if uErr := json.Unmarshal([]byte(existingProps), &union); uErr != nil {
				return false, fmt.Errorf("corrupt properties for node %q: %w", n.ID, uErr)
			}
		}
		for k, v := range n.Properties {
			union[k] = v
		}
		props, mErr := json.Marshal(union)
		if mErr != nil {
			return false, fmt.Errorf("failed to marshal properties for node %q: %w", n.ID, mErr)
		}
		ancestors, mErr := json.Marshal(orEmpty(n.Ancestors))
		if mErr != nil {
			return false, fmt.Errorf("failed to marshal ancestors for node %q: %w", n.ID, mErr)
		}
		_, err = tx.ExecContext(ctx, `UPDATE nodes SET
            name = ?, node_type = ?, is_type_def = ?, ancestors = ?, properties = ?,
            status = ?, confidence = ?, evidence_count = ?, embedding = ?, expires_at = ?, updated_at = ?
            WHERE id = ?`,
			n.Name, n.Type, boolToInt(n.IsTypeDefinition), string(ancestors), string(props),
			string(defaultTier(n.Status)), n.Confidence, existingEvidence+1,
			encodeVector(n.Embedding), unixOrNil(n.ExpiresAt), now, n.ID)
		if err != nil {
			return false, fmt.Errorf("failed to update node %q: %w", n.ID, err)
		}
		n.EvidenceCount = existingEvidence + 1
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	s.invalidateNode(n.ID)
	success = true
	return merged, nil
}

// GetNode retrieves a single node by id.
func (s *Store) GetNode(ctx context.Context, id string) (*apptype.Node, error) {
	if s.nodeCache != nil {
		if v, ok := s.nodeCache.Get(id); ok {
			if n, ok := v.(*apptype.Node); ok {
				cp := *n
				return &cp, nil
			}
		}
	}

	stmt, err := s.getPreparedStmt(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE id = ?")
	if err != nil {
		return nil, err
	}
	n, err := scanNode(stmt.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("node %q: %w", id, apptype.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan node %q: %w", id, err)
	}
	if s.nodeCache != nil {
		cp := *n
		s.nodeCache.Set(id, &cp, 1)
	}
	return n, nil
}

// GetNodeByName retrieves the most recently updated node with the name.
func (s *Store) GetNodeByName(ctx context.Context, name string) (*apptype.Node, error) {
	stmt, err := s.getPreparedStmt(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE name = ? ORDER BY updated_at DESC, id LIMIT 1")
	if err != nil {
		return nil, err
	}
	n, err := scanNode(stmt.QueryRowContext(ctx, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("node named %q: %w", name, apptype.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to scan node named %q: %w", name, err)
	}
	return n, nil
}

// FindNodes returns nodes of the given type (all types when empty),
// most recently updated first.
func (s *Store) FindNodes(ctx context.Context, nodeType string, limit int) ([]*apptype.Node, error) {
	if limit <= 0 {
		limit = 1000
	}
	var rows *sql.Rows
	var err error
	if nodeType == "" {
		stmt, pErr := s.getPreparedStmt(ctx, "SELECT "+nodeColumns+" FROM nodes ORDER BY updated_at DESC, id LIMIT ?")
		if pErr != nil {
			return nil, pErr
		}
		rows, err = stmt.QueryContext(ctx, limit)
	} else {
		stmt, pErr := s.getPreparedStmt(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE node_type = ? ORDER BY updated_at DESC, id LIMIT ?")
		if pErr != nil {
			return nil, pErr
		}
		rows, err = stmt.QueryContext(ctx, nodeType, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// FindNodesWithAncestor returns nodes whose type is, or descends from,
// the given type name. Used to refresh ancestor chains after a
// type-hierarchy change.
func (s *Store) FindNodesWithAncestor(ctx context.Context, typeName string) ([]*apptype.Node, error) {
	// Ancestors are stored as a JSON array; the LIKE probe over-selects,
	// so re-check after decoding.
	pattern := fmt.Sprintf("%%%q%%", typeName)
	stmt, err := s.getPreparedStmt(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE node_type = ? OR ancestors LIKE ?")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, typeName, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes under type %q: %w", typeName, err)
	}
	defer rows.Close()
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	out := nodes[:0]
	for _, n := range nodes {
		if n.Type == typeName {
			out = append(out, n)
			continue
		}
		for _, a := range n.Ancestors {
			if a == typeName {
				out = append(out, n)
				break
			}
		}
	}
	return out, nil
}

// RecentNodes retrieves recently updated nodes.
func (s *Store) RecentNodes(ctx context.Context, limit int) ([]*apptype.Node, error) {
	if limit <= 0 {
		limit = 10
	}
	stmt, err := s.getPreparedStmt(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE is_type_def = 0 ORDER BY updated_at DESC, id LIMIT ?")
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent nodes: %w", err)
	}
	defer rows.Close()
	return scanNodes(rows)
}

// DeleteNode deletes a node and every edge touching it.
func (s *Store) DeleteNode(ctx context.Context, id string) error {
	done := metrics.TimeOp("graph_delete_node")
	success := false
	defer func() { done(success) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM nodes WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete node %q: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("node %q: %w", id, apptype.ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM edges WHERE source = ? OR target = ?", id, id); err != nil {
		return fmt.Errorf("failed to delete edges for node %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.invalidateNode(id)
	success = true
	return nil
}

// SetNodeTier updates the tier fields of a node.
func (s *Store) SetNodeTier(ctx context.Context, id string, tier apptype.Tier, expires *time.Time) error {
	res, err := s.db.ExecContext(ctx, "UPDATE nodes SET status = ?, expires_at = ?, updated_at = ? WHERE id = ?",
		string(tier), unixOrNil(expires), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set tier for node %q: %w", id, err)
	}
	if err := requireAffected(res, id); err != nil {
		return err
	}
	s.invalidateNode(id)
	return nil
}

// SetNodeAncestors rewrites the stored ancestor chain of a node.
func (s *Store) SetNodeAncestors(ctx context.Context, id string, ancestors []string) error {
	enc, err := json.Marshal(orEmpty(ancestors))
	if err != nil {
		return fmt.Errorf("failed to marshal ancestors for node %q: %w", id, err)
	}
	res, err := s.db.ExecContext(ctx, "UPDATE nodes SET ancestors = ?, updated_at = ? WHERE id = ?",
		string(enc), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set ancestors for node %q: %w", id, err)
	}
	if err := requireAffected(res, id); err != nil {
		return err
	}
	s.invalidateNode(id)
	return nil
}

// SetNodeConfidence updates confidence and evidence count.
func (s *Store) SetNodeConfidence(ctx context.Context, id string, confidence float64, evidence int) error {
	res, err := s.db.ExecContext(ctx, "UPDATE nodes SET confidence = ?, evidence_count = ?, updated_at = ? WHERE id = ?",
		confidence, evidence, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to set confidence for node %q: %w", id, err)
	}
	if err := requireAffected(res, id); err != nil {
		return err
	}
	s.invalidateNode(id)
	return nil
}

// ExpiredNodeIDs lists non-canonical nodes whose TTL elapsed before now.
func (s *Store) ExpiredNodeIDs(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM nodes WHERE status != ? AND expires_at IS NOT NULL AND expires_at < ?",
		string(apptype.TierCanonical), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to query expired nodes: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// DecayNodeConfidence multiplies non-canonical node confidence by factor
// and returns the ids of nodes that fell below floor (the caller deletes
// them and their vector records).
func (s *Store) DecayNodeConfidence(ctx context.Context, factor, floor float64) ([]string, error) {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE nodes SET confidence = confidence * ?, updated_at = ? WHERE status != ? AND is_type_def = 0",
		factor, time.Now().Unix(), string(apptype.TierCanonical)); err != nil {
		return nil, fmt.Errorf("failed to decay node confidence: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM nodes WHERE status != ? AND is_type_def = 0 AND confidence < ?",
		string(apptype.TierCanonical), floor)
	if err != nil {
		return nil, fmt.Errorf("failed to query decayed nodes: %w", err)
	}
	defer rows.Close()
	ids, err := scanIDs(rows)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.invalidateNode(id)
	}
	return ids, nil
}

func (s *Store) invalidateNode(id string) {
	if s.nodeCache != nil {
		s.nodeCache.Del(id)
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*apptype.Node, error) {
	var n apptype.Node
	var isTypeDef int
	var ancestors, props, status string
	var embedding []byte
	var expires sql.NullInt64
	var created, updated int64
	if err := row.Scan(&n.ID, &n.Name, &n.Type, &isTypeDef, &ancestors, &props,
		&status, &n.Confidence, &n.EvidenceCount, &embedding, &expires, &created, &updated); err != nil {
		return nil, err
	}
	n.IsTypeDefinition = isTypeDef != 0
	n.Status = apptype.Tier(status)
	if err := json.Unmarshal([]byte(ancestors), &n.Ancestors); err != nil {
		return nil, fmt.Errorf("corrupt ancestors for node %q: %w", n.ID, err)
	}
	if err := json.Unmarshal([]byte(props), &n.Properties); err != nil {
		return nil, fmt.Errorf("corrupt properties for node %q: %w", n.ID, err)
	}
	vec, err := decodeVector(embedding)
	if err != nil {
		return nil, fmt.Errorf("corrupt embedding for node %q: %w", n.ID, err)
	}
	n.Embedding = vec
	if expires.Valid {
		t := time.Unix(expires.Int64, 0)
		n.ExpiresAt = &t
	}
	n.CreatedAt = time.Unix(created, 0)
	n.UpdatedAt = time.Unix(updated, 0)
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]*apptype.Node, error) {
	var out []*apptype.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func marshalNodeJSON(n *apptype.Node) (ancestors, props string, err error) {
	a, err := json.Marshal(orEmpty(n.Ancestors))
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal ancestors for node %q: %w", n.Name, err)
	}
	p := []byte("{}")
	if n.Properties != nil {
		p, err = json.Marshal(n.Properties)
		if err != nil {
			return "", "", fmt.Errorf("failed to marshal properties for node %q: %w", n.Name, err)
		}
	}
	return string(a), string(p), nil
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func defaultTier(t apptype.Tier) apptype.Tier {
	if t == "" {
		return apptype.TierEphemeral
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func requireAffected(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("entry %q: %w", id, apptype.ErrNotFound)
	}
	return nil
}
