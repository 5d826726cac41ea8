package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/kozaktomas/asset-guard/internal/metadata"
)

// TokenHashRepository memoizes resolved token content hashes.
type TokenHashRepository struct {
	pool *Pool
}

// NewTokenHashRepository creates a new token hash repository
func NewTokenHashRepository(pool *Pool) *TokenHashRepository {
	return &TokenHashRepository{pool: pool}
}

// Lookup returns the stored resolution for a token. A row whose token URI
// differs from tokenURI is treated as missing.
func (r *TokenHashRepository) Lookup(ctx context.Context, collection, tokenID, tokenURI string) (metadata.Resolution, bool, error) {
	query := `
		SELECT token_uri, ip_metadata_uri, content_hash
		FROM token_hashes
		WHERE collection = $1 AND token_id = $2
	`

	var res metadata.Resolution
	err := r.pool.QueryRow(ctx, query, strings.ToLower(collection), tokenID).Scan(
		&res.TokenURI,
		&res.IPMetadataURI,
		&res.ContentHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return metadata.Resolution{}, false, nil
	}
	if err != nil {
		return metadata.Resolution{}, false, fmt.Errorf("lookup token hash: %w", err)
	}
	if res.TokenURI != tokenURI {
		return metadata.Resolution{}, false, nil
	}
	return res, true, nil
}

// Store upserts a resolution.
func (r *TokenHashRepository) Store(ctx context.Context, collection, tokenID string, res metadata.Resolution) error {
	query := `
		INSERT INTO token_hashes (collection, token_id, token_uri, ip_metadata_uri, content_hash, resolved_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (collection, token_id) DO UPDATE SET
			token_uri = EXCLUDED.token_uri,
			ip_metadata_uri = EXCLUDED.ip_metadata_uri,
			content_hash = EXCLUDED.content_hash,
			resolved_at = EXCLUDED.resolved_at
	`

	_, err := r.pool.Exec(ctx, query,
		strings.ToLower(collection),
		tokenID,
		res.TokenURI,
		res.IPMetadataURI,
		strings.ToLower(res.ContentHash),
	)
	if err != nil {
		return fmt.Errorf("store token hash: %w", err)
	}
	return nil
}

// Count returns the number of indexed tokens in a collection.
func (r *TokenHashRepository) Count(ctx context.Context, collection string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM token_hashes WHERE collection = $1",
		strings.ToLower(collection)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count token hashes: %w", err)
	}
	return count, nil
}
