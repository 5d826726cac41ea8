package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kozaktomas/asset-guard/internal/precheck"
)

// DecisionRepository stores precheck decisions as an audit log.
type DecisionRepository struct {
	pool *Pool
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(pool *Pool) *DecisionRepository {
	return &DecisionRepository{pool: pool}
}

// Record inserts a decision. The full decision is kept as JSONB.
func (r *DecisionRepository) Record(ctx context.Context, d precheck.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	query := `
		INSERT INTO precheck_decisions (id, verdict, content_hash, perceptual_hash, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query, d.ID, string(d.Verdict), d.ContentHash, d.PerceptualHash, payload, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

// Get retrieves a decision by id, returns nil if not found.
func (r *DecisionRepository) Get(ctx context.Context, id string) (*precheck.Decision, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx, "SELECT payload FROM precheck_decisions WHERE id = $1", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get decision: %w", err)
	}

	var d precheck.Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("unmarshal decision %s: %w", id, err)
	}
	return &d, nil
}

// ListRecent returns the newest decisions first.
func (r *DecisionRepository) ListRecent(ctx context.Context, limit int) ([]precheck.Decision, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, "SELECT payload FROM precheck_decisions ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []precheck.Decision
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		var d precheck.Decision
		if err := json.Unmarshal(payload, &d); err != nil {
			return nil, fmt.Errorf("unmarshal decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return decisions, nil
}
