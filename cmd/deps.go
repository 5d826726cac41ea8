package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/kozaktomas/asset-guard/internal/ai"
	"github.com/kozaktomas/asset-guard/internal/config"
	"github.com/kozaktomas/asset-guard/internal/constants"
	"github.com/kozaktomas/asset-guard/internal/database/postgres"
	"github.com/kozaktomas/asset-guard/internal/dedup"
	"github.com/kozaktomas/asset-guard/internal/facematch"
	"github.com/kozaktomas/asset-guard/internal/identity"
	"github.com/kozaktomas/asset-guard/internal/ledger"
	"github.com/kozaktomas/asset-guard/internal/logging"
	"github.com/kozaktomas/asset-guard/internal/metadata"
	"github.com/kozaktomas/asset-guard/internal/precheck"
	"github.com/kozaktomas/asset-guard/internal/whitelist"
)

// needs selects the optional collaborators a command builds.
type needs struct {
	ledger   bool // requires CHAIN_RPC_URL
	database bool // optional, used when DATABASE_URL is set
	faces    bool
	risk     bool // optional, used when RISK_PROVIDER is set
}

// app holds everything a command needs, built once from configuration.
// Optional collaborators are nil when not configured.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	whitelist  *whitelist.Matcher
	resolver   *metadata.Resolver
	scanner    *dedup.Scanner
	collection common.Address
	detector   facematch.Detector
	verifier   *identity.Verifier
	liveness   *identity.LivenessChecker
	classifier ai.Classifier
	tokens     *postgres.TokenHashRepository
	decisions  *postgres.DecisionRepository

	closers []func()
}

// newLogger builds the logger from configuration and the --log-level flag.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if logLevel != "" {
		level = logLevel
	}
	return logging.New(level, cfg.Log.Format)
}

// newApp loads configuration and builds the requested collaborators.
func newApp(ctx context.Context, n needs) (*app, error) {
	cfg := config.Load()
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}
	a.whitelist = whitelist.NewMatcher(cfg.Whitelist.Hashes, whitelist.Options{
		StrictThreshold: cfg.Whitelist.StrictThreshold,
		LooseEnabled:    cfg.Whitelist.LooseEnabled,
		LooseThreshold:  cfg.Whitelist.LooseThreshold,
	}, logger.Named("whitelist"))

	if err := a.build(ctx, n); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context, n needs) error {
	if n.database && a.cfg.Database.URL != "" {
		if err := a.openDatabase(ctx); err != nil {
			return err
		}
	}
	if n.ledger {
		if err := a.openLedger(ctx); err != nil {
			return err
		}
	}
	if n.faces {
		if err := a.buildFaces(); err != nil {
			return err
		}
	}
	if n.risk {
		classifier, err := newClassifier(ctx, a.cfg)
		if err != nil {
			return err
		}
		a.classifier = classifier
	}
	return nil
}

func (a *app) openDatabase(ctx context.Context) error {
	pool, err := postgres.Open(ctx, &a.cfg.Database, a.logger.Named("postgres"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() { _ = pool.Close() })
	a.tokens = postgres.NewTokenHashRepository(pool)
	a.decisions = postgres.NewDecisionRepository(pool)
	return nil
}

func (a *app) openLedger(ctx context.Context) error {
	if a.cfg.Chain.RPCURL == "" {
		return errors.New("CHAIN_RPC_URL environment variable is required")
	}
	if a.cfg.Chain.CollectionAddress != "" {
		addr, err := ledger.ParseAddress(a.cfg.Chain.CollectionAddress)
		if err != nil {
			return fmt.Errorf("CHAIN_COLLECTION_ADDRESS: %w", err)
		}
		a.collection = addr
	}

	client, err := ledger.Dial(ctx, a.cfg.Chain.RPCURL)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, client.Close)

	a.resolver = metadata.NewResolver(metadata.Options{
		GatewayURL: a.cfg.Content.GatewayURL,
		Timeout:    a.cfg.Content.FetchTimeout,
	}, a.metadataCache(ctx), a.logger.Named("metadata"))

	var index dedup.TokenIndex
	if a.tokens != nil {
		index = a.tokens
	}
	a.scanner = dedup.NewScanner(client, a.resolver, index, dedup.Options{
		QuickTail:         a.cfg.Scan.QuickTail,
		MaxBlockLookback:  a.cfg.Scan.MaxBlockLookback,
		WindowSize:        a.cfg.Scan.WindowSize,
		WindowConcurrency: a.cfg.Scan.WindowConcurrency,
		Timeout:           a.cfg.Scan.Timeout,
	}, a.logger.Named("dedup"))
	return nil
}

// metadataCache prefers Redis and falls back to an in-process cache when
// Redis is not configured or unreachable.
func (a *app) metadataCache(ctx context.Context) metadata.Cache {
	if a.cfg.Cache.RedisURL != "" {
		client, err := metadata.NewRedisClient(ctx, a.cfg.Cache.RedisURL)
		if err == nil {
			a.closers = append(a.closers, func() { _ = client.Close() })
			return metadata.NewRedisCache(client, constants.CacheNamespace, a.cfg.Cache.TTL, a.logger.Named("cache"))
		}
		a.logger.Warn("redis unavailable, using in-memory metadata cache", zap.Error(err))
	}
	return metadata.NewMemoryCache(a.cfg.Cache.TTL)
}

func (a *app) buildFaces() error {
	detector, err := newDetector(a.cfg, a.logger.Named("face"))
	if err != nil {
		return err
	}
	a.detector = detector

	a.verifier = identity.NewVerifier(facematch.NewExtractor(detector, a.logger.Named("face")), identity.Options{
		SimilarityThreshold: a.cfg.Face.SimilarityThreshold,
		FallbackDistance:    a.cfg.Face.FallbackDistance,
		HashSize:            a.cfg.Hash.Size,
		CropRatio:           a.cfg.Hash.CenterCropRatio,
	}, a.logger.Named("identity"))

	a.liveness = identity.NewLivenessChecker(detector, identity.LivenessOptions{
		Duration:       a.cfg.Liveness.Duration,
		MoveThreshold:  a.cfg.Liveness.MoveThreshold,
		BlinkThreshold: a.cfg.Liveness.BlinkThreshold,
	}, nil, a.logger.Named("liveness"))
	return nil
}

func newDetector(cfg *config.Config, logger *zap.Logger) (facematch.Detector, error) {
	switch strings.ToLower(cfg.Face.Detector) {
	case "", constants.DetectorMesh:
		return facematch.NewMeshClient(cfg.Face.MeshURL), nil
	case constants.DetectorPigo:
		return facematch.NewPigoDetector(cfg.Face.CascadeDir, facematch.DefaultPigoParams, logger), nil
	default:
		return nil, fmt.Errorf("unknown face detector %q (use %s or %s)",
			cfg.Face.Detector, constants.DetectorMesh, constants.DetectorPigo)
	}
}

// newClassifier returns nil when no risk provider is configured.
func newClassifier(ctx context.Context, cfg *config.Config) (ai.Classifier, error) {
	switch strings.ToLower(cfg.Risk.Provider) {
	case "":
		return nil, nil
	case constants.ProviderOpenAI:
		if cfg.OpenAI.Token == "" {
			return nil, errors.New("OPENAI_TOKEN environment variable is required")
		}
		return ai.NewOpenAIProvider(cfg.OpenAI.Token, ai.OpenAIPricing), nil
	case constants.ProviderGemini:
		if cfg.Gemini.APIKey == "" {
			return nil, errors.New("GEMINI_API_KEY environment variable is required")
		}
		return ai.NewGeminiProvider(ctx, cfg.Gemini.APIKey, ai.GeminiPricing)
	case constants.ProviderOllama:
		return ai.NewOllamaProvider(cfg.Ollama.URL, cfg.Ollama.Model), nil
	default:
		return nil, fmt.Errorf("unknown risk provider %q", cfg.Risk.Provider)
	}
}

// gate assembles the precheck pipeline. Absent collaborators are passed as
// untyped nils so the gate sees them as missing.
func (a *app) gate(fullScan bool) *precheck.Gate {
	var duplicates precheck.DuplicateChecker
	if a.scanner != nil {
		duplicates = a.scanner
	}
	var audit precheck.AuditLog
	if a.decisions != nil {
		audit = a.decisions
	}
	return precheck.NewGate(a.whitelist, duplicates, a.classifier, audit, precheck.Options{
		HashSize:   a.cfg.Hash.Size,
		CropRatio:  a.cfg.Hash.CenterCropRatio,
		Collection: a.collection,
		FullScan:   fullScan,
	}, a.logger.Named("precheck"))
}

// collectionFor returns the --collection flag value or the configured address.
func (a *app) collectionFor(flag string) (common.Address, error) {
	if flag == "" {
		if a.collection == (common.Address{}) {
			return common.Address{}, errors.New("collection address is required (--collection or CHAIN_COLLECTION_ADDRESS)")
		}
		return a.collection, nil
	}
	return ledger.ParseAddress(flag)
}

// Close releases connections in reverse order and flushes the logger.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}
