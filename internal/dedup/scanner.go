// Package dedup searches a collection's minted tokens for one whose
// recorded content hash equals a candidate upload's content hash.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/asset-guard/internal/constants"
	"github.com/kozaktomas/asset-guard/internal/fingerprint"
	"github.com/kozaktomas/asset-guard/internal/ledger"
	"github.com/kozaktomas/asset-guard/internal/metadata"
)

// ErrTimeout is the degraded cause when a check exceeds its deadline.
var ErrTimeout = errors.New("duplicate check timed out")

// Resolver turns a token URI into its content hash.
type Resolver interface {
	Resolve(ctx context.Context, tokenURI string) (metadata.Resolution, bool)
}

// TokenIndex memoizes resolved content hashes per token. A cached row only
// counts while its token URI is unchanged.
type TokenIndex interface {
	Lookup(ctx context.Context, collection, tokenID, tokenURI string) (metadata.Resolution, bool, error)
	Store(ctx context.Context, collection, tokenID string, res metadata.Resolution) error
}

// ProgressFunc is called after each token of a full scan is checked.
type ProgressFunc func(done, total int)

// Options configures a Scanner. Zero values fall back to defaults.
type Options struct {
	QuickTail         int
	MaxBlockLookback  uint64
	WindowSize        uint64
	WindowConcurrency int
	Timeout           time.Duration
}

// Scanner runs duplicate checks. It holds no per-check state and is safe
// for concurrent use.
type Scanner struct {
	reader   ledger.Reader
	resolver Resolver
	index    TokenIndex
	opts     Options
	logger   *zap.Logger
}

// NewScanner creates a scanner. index may be nil.
func NewScanner(reader ledger.Reader, resolver Resolver, index TokenIndex, opts Options, logger *zap.Logger) *Scanner {
	if opts.QuickTail <= 0 {
		opts.QuickTail = constants.DefaultQuickTail
	}
	if opts.WindowSize == 0 {
		opts.WindowSize = constants.DefaultWindowSize
	}
	if opts.WindowConcurrency <= 0 {
		opts.WindowConcurrency = constants.DefaultWindowConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		reader:   reader,
		resolver: resolver,
		index:    index,
		opts:     opts,
		logger:   logger,
	}
}

// Options returns the effective options.
func (s *Scanner) Options() Options {
	return s.opts
}

// Check runs the quick path and, when full is set and the quick path
// found nothing, the full scan. The whole check is bounded by the
// configured timeout; running out of time yields a degraded miss.
func (s *Scanner) Check(ctx context.Context, collection common.Address, targetHash string, full bool) Match {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}

	return s.bounded(ctx, PathQuick, func(ctx context.Context) Match {
		m := s.QuickCheck(ctx, collection, targetHash)
		if m.Found || !full {
			return m
		}
		if ctx.Err() != nil {
			return degradedMatch(PathQuick, ErrTimeout)
		}
		return s.FullScan(ctx, collection, targetHash, nil)
	})
}

// bounded runs fn and returns a degraded miss as soon as ctx is done, even
// if fn is still waiting on a collaborator.
func (s *Scanner) bounded(ctx context.Context, path Path, fn func(context.Context) Match) Match {
	done := make(chan Match, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case m := <-done:
		return m
	case <-ctx.Done():
		s.logger.Warn("duplicate check abandoned", zap.Error(ctx.Err()))
		return degradedMatch(path, ErrTimeout)
	}
}

// QuickCheck walks the most recent QuickTail tokens, newest first, and
// returns on the first exact content hash match.
func (s *Scanner) QuickCheck(ctx context.Context, collection common.Address, targetHash string) Match {
	target := fingerprint.NormalizeContentHash(targetHash)
	if target == "" {
		return Match{Path: PathQuick, Reason: Absent()}
	}

	supply, err := s.reader.TotalSupply(ctx, collection)
	if err != nil {
		s.logger.Warn("total supply unreadable", zap.String("collection", collection.Hex()), zap.Error(err))
		return degradedMatch(PathQuick, err)
	}

	result := Match{Path: PathQuick}
	enumerable := true
	one := big.NewInt(1)
	index := new(big.Int).Sub(supply, one)

	for walked := 0; walked < s.opts.QuickTail && index.Sign() >= 0; walked++ {
		if err := ctx.Err(); err != nil {
			return degradedMatch(PathQuick, err)
		}

		tokenID := new(big.Int).Set(index)
		if enumerable {
			id, err := s.reader.TokenByIndex(ctx, collection, index)
			if err != nil {
				s.logger.Debug("tokenByIndex unsupported, using index as id",
					zap.String("collection", collection.Hex()), zap.Error(err))
				enumerable = false
			} else {
				tokenID = id
			}
		}

		hit, ok := s.checkToken(ctx, collection, tokenID, target)
		result.Checked++
		if !ok {
			result.Unreadable++
		} else if hit.Found {
			hit.Path = PathQuick
			hit.Checked = result.Checked
			hit.Unreadable = result.Unreadable
			return hit
		}

		index.Sub(index, one)
	}

	result.Reason = missReason(result.Checked, result.Unreadable)
	return result
}

// FullScan collects every token minted within the lookback range from mint
// events, then checks each one. progress may be nil.
func (s *Scanner) FullScan(ctx context.Context, collection common.Address, targetHash string, progress ProgressFunc) Match {
	target := fingerprint.NormalizeContentHash(targetHash)
	if target == "" {
		return Match{Path: PathFull, Reason: Absent()}
	}

	latest, err := s.reader.LatestBlock(ctx)
	if err != nil {
		s.logger.Warn("latest block unreadable", zap.Error(err))
		return degradedMatch(PathFull, err)
	}

	ids, failedWindows, err := s.mintedTokenIDs(ctx, collection, latest)
	if err != nil {
		return degradedMatch(PathFull, err)
	}

	s.logger.Info("full scan collected tokens",
		zap.String("collection", collection.Hex()),
		zap.Int("tokens", len(ids)),
		zap.Int("failed_windows", failedWindows),
	)

	m := s.checkAll(ctx, collection, ids, target, progress)
	if m.Found || m.Reason != nil {
		return m
	}
	if failedWindows > 0 {
		m.Reason = Degraded(fmt.Errorf("%d block windows unreadable", failedWindows))
		return m
	}
	m.Reason = missReason(m.Checked, m.Unreadable)
	return m
}

// blockWindow is an inclusive block range.
type blockWindow struct {
	from, to uint64
}

// windows splits [max(0, latest-lookback), latest] into ranges of at most size blocks.
func windows(latest, lookback, size uint64) []blockWindow {
	if size == 0 {
		size = constants.DefaultWindowSize
	}
	var start uint64
	if lookback > 0 && latest > lookback {
		start = latest - lookback
	}

	var out []blockWindow
	for from := start; from <= latest; from += size {
		to := min(from+size-1, latest)
		out = append(out, blockWindow{from: from, to: to})
		if to == latest {
			break
		}
	}
	return out
}

// mintedTokenIDs fetches mint logs across all windows concurrently and
// returns the distinct ids, highest first. Failed windows are counted and
// skipped so a partial set can still produce a match.
func (s *Scanner) mintedTokenIDs(ctx context.Context, collection common.Address, latest uint64) ([]*big.Int, int, error) {
	ranges := windows(latest, s.opts.MaxBlockLookback, s.opts.WindowSize)

	var (
		mu     sync.Mutex
		seen   = make(map[string]*big.Int)
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.WindowConcurrency)

	for _, w := range ranges {
		g.Go(func() error {
			ids, err := s.reader.MintedTokenIDs(gctx, collection, w.from, w.to)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.Warn("mint window unreadable",
					zap.Uint64("from", w.from), zap.Uint64("to", w.to), zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			for _, id := range ids {
				seen[id.String()] = id
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, failed, err
	}
	if failed == len(ranges) {
		return nil, failed, fmt.Errorf("all %d block windows unreadable", failed)
	}

	ids := make([]*big.Int, 0, len(seen))
	for _, id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) > 0 })
	return ids, failed, nil
}

// checkAll resolves ids with bounded concurrency and stops at the first match.
func (s *Scanner) checkAll(ctx context.Context, collection common.Address, ids []*big.Int, target string, progress ProgressFunc) Match {
	var (
		mu         sync.Mutex
		hit        *Match
		done       atomic.Int64
		unreadable atomic.Int64
	)

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g := new(errgroup.Group)
	g.SetLimit(s.opts.WindowConcurrency)

	for _, id := range ids {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			m, ok := s.checkToken(gctx, collection, id, target)
			n := done.Add(1)
			if !ok {
				unreadable.Add(1)
			}
			if progress != nil {
				progress(int(n), len(ids))
			}
			if ok && m.Found {
				mu.Lock()
				if hit == nil {
					hit = &m
					cancel()
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	result := Match{Path: PathFull}
	if hit != nil {
		result = *hit
		result.Path = PathFull
	} else if err := ctx.Err(); err != nil {
		result.Reason = Degraded(err)
	}
	result.Checked = int(done.Load())
	result.Unreadable = int(unreadable.Load())
	return result
}

// checkToken resolves one token and compares its content hash to target,
// which must already be normalized. ok is false when the token could not be read.
func (s *Scanner) checkToken(ctx context.Context, collection common.Address, tokenID *big.Int, target string) (Match, bool) {
	id := tokenID.String()

	uri, err := s.reader.TokenURI(ctx, collection, tokenID)
	if err != nil {
		s.logger.Debug("tokenURI unreadable", zap.String("token_id", id), zap.Error(err))
		return Match{}, false
	}

	res, ok := s.lookupIndex(ctx, collection, id, uri)
	if !ok {
		res, ok = s.resolver.Resolve(ctx, uri)
		if !ok {
			return Match{}, true
		}
		s.storeIndex(ctx, collection, id, res)
	}

	if fingerprint.NormalizeContentHash(res.ContentHash) != target {
		return Match{}, true
	}

	return Match{
		Found:         true,
		TokenID:       id,
		TokenURI:      uri,
		IPMetadataURI: res.IPMetadataURI,
	}, true
}

func (s *Scanner) lookupIndex(ctx context.Context, collection common.Address, id, uri string) (metadata.Resolution, bool) {
	if s.index == nil {
		return metadata.Resolution{}, false
	}
	res, ok, err := s.index.Lookup(ctx, collection.Hex(), id, uri)
	if err != nil {
		s.logger.Debug("token index lookup failed", zap.String("token_id", id), zap.Error(err))
		return metadata.Resolution{}, false
	}
	return res, ok
}

func (s *Scanner) storeIndex(ctx context.Context, collection common.Address, id string, res metadata.Resolution) {
	if s.index == nil {
		return
	}
	if err := s.index.Store(ctx, collection.Hex(), id, res); err != nil {
		s.logger.Debug("token index store failed", zap.String("token_id", id), zap.Error(err))
	}
}
