package precheck

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/asset-guard/internal/ai"
	"github.com/kozaktomas/asset-guard/internal/dedup"
	"github.com/kozaktomas/asset-guard/internal/fingerprint"
	"github.com/kozaktomas/asset-guard/internal/whitelist"
)

// ErrNoScanner is the degraded cause when no ledger is configured.
var ErrNoScanner = errors.New("duplicate scanner not configured")

// WhitelistChecker is satisfied by *whitelist.Matcher.
type WhitelistChecker interface {
	Check(set fingerprint.VariantSet) whitelist.Decision
}

// DuplicateChecker is satisfied by *dedup.Scanner.
type DuplicateChecker interface {
	Check(ctx context.Context, collection common.Address, targetHash string, full bool) dedup.Match
}

// AuditLog persists decisions. Satisfied by *postgres.DecisionRepository.
type AuditLog interface {
	Record(ctx context.Context, d Decision) error
}

// Options configures a Gate.
type Options struct {
	HashSize   int
	CropRatio  float64
	Collection common.Address
	FullScan   bool // fall through to the historical scan on a quick miss
}

// Gate evaluates uploads. Every collaborator except the whitelist may be nil.
type Gate struct {
	whitelist  WhitelistChecker
	duplicates DuplicateChecker
	classifier ai.Classifier
	audit      AuditLog
	opts       Options
	now        func() time.Time
	logger     *zap.Logger
}

// NewGate creates a gate. A nil duplicates checker makes every upload
// need review.
func NewGate(wl WhitelistChecker, duplicates DuplicateChecker, classifier ai.Classifier, audit AuditLog, opts Options, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		whitelist:  wl,
		duplicates: duplicates,
		classifier: classifier,
		audit:      audit,
		opts:       opts,
		now:        time.Now,
		logger:     logger,
	}
}

// Evaluate decodes data and runs all checks. Only an undecodable image is
// an error; collaborator failures are folded into the decision.
func (g *Gate) Evaluate(ctx context.Context, data []byte, fileName string) (*Decision, error) {
	img, err := fingerprint.Decode(data)
	if err != nil {
		return nil, err
	}
	set := fingerprint.ComputeVariants(img, g.opts.HashSize, g.opts.CropRatio)

	d := &Decision{
		ID:             uuid.NewString(),
		FileName:       fileName,
		ContentHash:    fingerprint.ContentHash(data),
		PerceptualHash: set.Base(),
		Whitelist:      g.whitelist.Check(set),
		CreatedAt:      g.now().UTC(),
	}

	// Both branches record their outcome on d and never return an error.
	var eg errgroup.Group
	eg.Go(func() error {
		d.Duplicate = g.checkDuplicates(ctx, d.ContentHash)
		return nil
	})
	if g.classifier != nil {
		eg.Go(func() error {
			b := img.Bounds()
			risk, err := g.classifier.Classify(ctx, data, &ai.ImageInfo{
				FileName:    fileName,
				Width:       b.Dx(),
				Height:      b.Dy(),
				ContentHash: d.ContentHash,
			})
			if err != nil {
				g.logger.Warn("risk classification failed", zap.String("provider", g.classifier.Name()), zap.Error(err))
				d.RiskError = err.Error()
				return nil
			}
			d.Risk = risk
			return nil
		})
	}
	_ = eg.Wait()

	d.Verdict, d.Reasons = decide(d.Whitelist, d.Duplicate, d.Risk)

	g.logger.Info("precheck decision",
		zap.String("id", d.ID),
		zap.String("verdict", string(d.Verdict)),
		zap.String("content_hash", d.ContentHash),
		zap.Bool("whitelisted", d.Whitelist.Matched),
		zap.Bool("duplicate", d.Duplicate.Found),
		zap.Bool("degraded", d.Duplicate.IsDegraded()),
	)

	if g.audit != nil {
		if err := g.audit.Record(ctx, *d); err != nil {
			g.logger.Warn("failed to record precheck decision", zap.String("id", d.ID), zap.Error(err))
		}
	}
	return d, nil
}

func (g *Gate) checkDuplicates(ctx context.Context, contentHash string) dedup.Match {
	if g.duplicates == nil {
		return dedup.Match{Path: dedup.PathQuick, Reason: dedup.Degraded(ErrNoScanner)}
	}
	return g.duplicates.Check(ctx, g.opts.Collection, contentHash, g.opts.FullScan)
}
