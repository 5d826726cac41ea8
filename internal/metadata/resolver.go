// Package metadata resolves a token URI down to the content hash recorded in
// its IP metadata document.
package metadata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// ErrResolutionMiss marks a metadata chain that does not lead to a content hash.
var ErrResolutionMiss = errors.New("metadata chain incomplete")

const (
	ipMetadataTrait = "ip_metadata_uri"
	maxDocumentSize = 2 << 20
	defaultTimeout  = 4 * time.Second
)

// Resolution is the result of following both hops.
type Resolution struct {
	TokenURI      string `json:"token_uri"`
	IPMetadataURI string `json:"ip_metadata_uri"`
	ContentHash   string `json:"content_hash"`
}

// Options configures a Resolver.
type Options struct {
	GatewayURL string
	Timeout    time.Duration // per document fetch
}

// Resolver follows token URI -> NFT metadata -> IP metadata -> content hash.
// It is safe for concurrent use.
type Resolver struct {
	client  *http.Client
	gateway string
	timeout time.Duration
	cache   Cache
	logger  *zap.Logger
}

// NewResolver creates a resolver. cache may be nil.
func NewResolver(opts Options, cache Cache, logger *zap.Logger) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		client:  &http.Client{},
		gateway: normalizeGateway(opts.GatewayURL),
		timeout: opts.Timeout,
		cache:   cache,
		logger:  logger,
	}
}

// nftMetadata is the first hop document.
type nftMetadata struct {
	IPMetadataURI string      `json:"ipMetadataURI"`
	Attributes    []attribute `json:"attributes"`
}

type attribute struct {
	TraitType string `json:"trait_type"`
	Value     any    `json:"value"`
}

// ipMetadata is the second hop document.
type ipMetadata struct {
	ImageHash string `json:"imageHash"`
	MediaHash string `json:"mediaHash"`
}

// ResolveContentHash returns the lowercased content hash for tokenURI.
// Any fetch or parse failure yields ok=false.
func (r *Resolver) ResolveContentHash(ctx context.Context, tokenURI string) (string, bool) {
	res, ok := r.Resolve(ctx, tokenURI)
	return res.ContentHash, ok
}

// Resolve follows both hops and reports the intermediate URI as well.
func (r *Resolver) Resolve(ctx context.Context, tokenURI string) (Resolution, bool) {
	res, err := r.resolve(ctx, tokenURI)
	if err != nil {
		r.logger.Debug("metadata resolution miss", zap.String("token_uri", tokenURI), zap.Error(err))
		return Resolution{TokenURI: tokenURI, IPMetadataURI: res.IPMetadataURI}, false
	}
	return res, true
}

func (r *Resolver) resolve(ctx context.Context, tokenURI string) (Resolution, error) {
	res := Resolution{TokenURI: tokenURI}

	var nft nftMetadata
	if err := r.fetchJSON(ctx, tokenURI, &nft); err != nil {
		return res, fmt.Errorf("nft metadata: %w", err)
	}

	res.IPMetadataURI = extractIPMetadataURI(nft)
	if res.IPMetadataURI == "" {
		return res, fmt.Errorf("%w: no ip metadata uri", ErrResolutionMiss)
	}

	var ip ipMetadata
	if err := r.fetchJSON(ctx, res.IPMetadataURI, &ip); err != nil {
		return res, fmt.Errorf("ip metadata: %w", err)
	}

	hash := ip.ImageHash
	if strings.TrimSpace(hash) == "" {
		hash = ip.MediaHash
	}
	hash = strings.ToLower(strings.TrimSpace(hash))
	if hash == "" {
		return res, fmt.Errorf("%w: no image or media hash", ErrResolutionMiss)
	}
	res.ContentHash = hash
	return res, nil
}

// extractIPMetadataURI prefers the direct field and falls back to the
// attribute whose trait_type case-insensitively equals ip_metadata_uri.
func extractIPMetadataURI(nft nftMetadata) string {
	if uri := strings.TrimSpace(nft.IPMetadataURI); uri != "" {
		return uri
	}
	fold := cases.Fold()
	for _, a := range nft.Attributes {
		if fold.String(strings.TrimSpace(a.TraitType)) != ipMetadataTrait {
			continue
		}
		if s, ok := a.Value.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func (r *Resolver) fetchJSON(ctx context.Context, uri string, out any) error {
	body, err := r.fetch(ctx, uri)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse document: %w", err)
	}
	return nil
}

// fetch returns the document at uri, consulting the cache first.
func (r *Resolver) fetch(ctx context.Context, uri string) ([]byte, error) {
	target := NormalizeURI(uri, r.gateway)
	if target == "" {
		return nil, fmt.Errorf("%w: empty uri", ErrResolutionMiss)
	}

	if strings.HasPrefix(strings.ToLower(target), "data:") {
		return decodeDataURI(target)
	}

	if r.cache != nil {
		if body, ok := r.cache.Get(ctx, target); ok {
			return body, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch error (status %d) for %s", resp.StatusCode, target)
	}

	if r.cache != nil {
		r.cache.Set(ctx, target, body)
	}
	return body, nil
}

// decodeDataURI handles inline "data:application/json[;base64],..." documents.
func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(uri[len("data:"):], ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data uri", ErrResolutionMiss)
	}
	if strings.HasSuffix(strings.ToLower(header), ";base64") {
		body, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decoding data uri: %w", err)
		}
		return body, nil
	}
	body, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decoding data uri: %w", err)
	}
	return []byte(body), nil
}
