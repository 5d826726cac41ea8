// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Perceptual hash constants
const (
	// DefaultHashSize is the side of the dHash bit grid (64 bits)
	DefaultHashSize = 8

	// HashPenaltyPerHexChar is added to the Hamming distance for every hex
	// character two compared hashes differ in length by
	HashPenaltyPerHexChar = 4
)

// Whitelist constants
const (
	// DefaultStrictThreshold is the max Hamming distance for a strict whitelist match
	DefaultStrictThreshold = 8

	// LooseThresholdOffset is added to the strict threshold when loose matching
	// is enabled without an explicit loose threshold
	LooseThresholdOffset = 6
)

// Duplicate scan constants
const (
	// DefaultQuickTail is the number of newest tokens walked by the quick check
	DefaultQuickTail = 300

	// DefaultWindowSize is the block range of one mint-log query
	DefaultWindowSize = 75_000

	// DefaultWindowConcurrency is the number of log windows fetched in parallel
	DefaultWindowConcurrency = 4
)

// Identity verification constants
const (
	// DefaultSimilarityThreshold is the min cosine similarity for a verified identity
	DefaultSimilarityThreshold = 0.82

	// DefaultFallbackDistance is the max Hamming distance for the hash fallback path
	DefaultFallbackDistance = 14

	// LandmarkStride keeps every n-th landmark in the face embedding
	LandmarkStride = 4

	// MinEmbeddingSize is the shortest embedding compared by cosine similarity.
	// Shorter ones match unrelated faces above DefaultSimilarityThreshold.
	MinEmbeddingSize = 64

	// BlinkResetLevel is the blink score the eye must drop below before a
	// rising edge counts as a blink
	BlinkResetLevel = 0.2
)

// Risk classifier constants
const (
	// RiskImageMaxSize is the max dimension of images sent to the classifier
	RiskImageMaxSize = 800

	// RiskMaxRetries is the number of attempts to get parseable JSON from a provider
	RiskMaxRetries = 3
)

// Risk classifier provider names
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// Face detector names
const (
	DetectorPigo = "pigo"
	DetectorMesh = "mesh"
)

// CacheNamespace prefixes every Redis key written by the metadata cache
const CacheNamespace = "asset-guard"

// MemoryCacheMaxEntries bounds the in-process metadata cache
const MemoryCacheMaxEntries = 10_000
