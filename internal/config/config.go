package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Hash      HashConfig      `yaml:"hash"`
	Whitelist WhitelistConfig `yaml:"whitelist"`
	Scan      ScanConfig      `yaml:"scan"`
	Face      FaceConfig      `yaml:"face"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	Content   ContentConfig   `yaml:"content"`
	Cache     CacheConfig     `yaml:"cache"`
	Chain     ChainConfig     `yaml:"-"`
	Database  DatabaseConfig  `yaml:"-"`
	OpenAI    OpenAIConfig    `yaml:"-"`
	Gemini    GeminiConfig    `yaml:"-"`
	Ollama    OllamaConfig    `yaml:"-"`
	Risk      RiskConfig      `yaml:"-"`
	Web       WebConfig       `yaml:"-"`
	Log       LogConfig       `yaml:"-"`
}

type HashConfig struct {
	Size            int     `yaml:"size"`
	CenterCropRatio float64 `yaml:"center_crop_ratio"`
}

type WhitelistConfig struct {
	Hashes          []string `yaml:"-"` // hex perceptual hashes, Base variant
	StrictThreshold int      `yaml:"strict_threshold"`
	LooseEnabled    bool     `yaml:"loose_enabled"`
	LooseThreshold  int      `yaml:"loose_threshold"` // 0 means strict+6
}

type ScanConfig struct {
	QuickTail         int           `yaml:"quick_tail"`
	MaxBlockLookback  uint64        `yaml:"max_block_lookback"`
	WindowSize        uint64        `yaml:"window_size"`
	WindowConcurrency int           `yaml:"window_concurrency"`
	Timeout           time.Duration `yaml:"timeout"`
}

type FaceConfig struct {
	Detector            string  `yaml:"detector"` // "mesh" or "pigo"
	CascadeDir          string  `yaml:"-"`
	MeshURL             string  `yaml:"-"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	FallbackDistance    int     `yaml:"fallback_distance"` // 0 accepts identical hashes only
}

type LivenessConfig struct {
	Duration       time.Duration `yaml:"duration"`
	MoveThreshold  float64       `yaml:"move_threshold"`
	BlinkThreshold float64       `yaml:"blink_threshold"`
}

type ContentConfig struct {
	GatewayURL   string        `yaml:"gateway_url"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

type CacheConfig struct {
	RedisURL string        `yaml:"-"`
	TTL      time.Duration `yaml:"ttl"`
}

type ChainConfig struct {
	RPCURL            string
	CollectionAddress string
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type OpenAIConfig struct {
	Token string
}

type GeminiConfig struct {
	APIKey string
}

type OllamaConfig struct {
	URL   string // defaults to http://localhost:11434
	Model string // defaults to llama3.2-vision:11b
}

type RiskConfig struct {
	Provider string // openai, gemini, ollama or empty for disabled
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // CORS origins, empty allows none
}

type LogConfig struct {
	Level  string
	Format string // json or console
}

// Scan timeout bounds for a single duplicate check.
const (
	MinScanTimeout = 3 * time.Second
	MaxScanTimeout = 8 * time.Second
)

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envNonNegInt is envInt for thresholds, where 0 is a meaningful value.
func envNonNegInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envUint64 is envInt for block counts.
func envUint64(key string, defaultVal uint64) uint64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration accepts Go duration strings ("6s") or plain milliseconds ("6000").
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.Atoi(s); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return defaultVal
	}
	return b
}

// envList splits a comma-separated variable, dropping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// Defaults returns the embedded defaults without applying the environment.
func Defaults() *Config {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}
	return &cfg
}

func Load() *Config {
	d := Defaults()

	cfg := &Config{
		Hash: HashConfig{
			Size:            envInt("HASH_SIZE", d.Hash.Size),
			CenterCropRatio: envFloat("HASH_CENTER_CROP_RATIO", d.Hash.CenterCropRatio),
		},
		Whitelist: WhitelistConfig{
			Hashes:          envList("WHITELIST_HASHES"),
			StrictThreshold: envNonNegInt("WHITELIST_STRICT_THRESHOLD", d.Whitelist.StrictThreshold),
			LooseEnabled:    envBool("WHITELIST_LOOSE_ENABLED", d.Whitelist.LooseEnabled),
			LooseThreshold:  envInt("WHITELIST_LOOSE_THRESHOLD", d.Whitelist.LooseThreshold),
		},
		Scan: ScanConfig{
			QuickTail:         envInt("SCAN_QUICK_TAIL", d.Scan.QuickTail),
			MaxBlockLookback:  envUint64("SCAN_MAX_BLOCK_LOOKBACK", d.Scan.MaxBlockLookback),
			WindowSize:        envUint64("SCAN_WINDOW_SIZE", d.Scan.WindowSize),
			WindowConcurrency: envInt("SCAN_WINDOW_CONCURRENCY", d.Scan.WindowConcurrency),
			Timeout:           ClampScanTimeout(envDuration("SCAN_TIMEOUT", d.Scan.Timeout)),
		},
		Face: FaceConfig{
			Detector:            envString("FACE_DETECTOR", d.Face.Detector),
			CascadeDir:          os.Getenv("FACE_CASCADE_DIR"),
			MeshURL:             os.Getenv("FACE_MESH_URL"),
			SimilarityThreshold: envFloat("FACE_SIMILARITY_THRESHOLD", d.Face.SimilarityThreshold),
			FallbackDistance:    envNonNegInt("FACE_FALLBACK_DISTANCE", d.Face.FallbackDistance),
		},
		Liveness: LivenessConfig{
			Duration:       envDuration("LIVENESS_DURATION", d.Liveness.Duration),
			MoveThreshold:  envFloat("LIVENESS_MOVE_THRESHOLD", d.Liveness.MoveThreshold),
			BlinkThreshold: envFloat("LIVENESS_BLINK_THRESHOLD", d.Liveness.BlinkThreshold),
		},
		Content: ContentConfig{
			GatewayURL:   envString("CONTENT_GATEWAY_URL", d.Content.GatewayURL),
			FetchTimeout: envDuration("CONTENT_FETCH_TIMEOUT", d.Content.FetchTimeout),
		},
		Cache: CacheConfig{
			RedisURL: os.Getenv("REDIS_URL"),
			TTL:      envDuration("CACHE_TTL", d.Cache.TTL),
		},
		Chain: ChainConfig{
			RPCURL:            os.Getenv("CHAIN_RPC_URL"),
			CollectionAddress: os.Getenv("CHAIN_COLLECTION_ADDRESS"),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		OpenAI: OpenAIConfig{
			Token: os.Getenv("OPENAI_TOKEN"),
		},
		Gemini: GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
		},
		Ollama: OllamaConfig{
			URL:   os.Getenv("OLLAMA_URL"),
			Model: os.Getenv("OLLAMA_MODEL"),
		},
		Risk: RiskConfig{
			Provider: strings.ToLower(os.Getenv("RISK_PROVIDER")),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
	}

	return cfg
}

// ClampScanTimeout keeps the per-check timeout inside [MinScanTimeout, MaxScanTimeout].
func ClampScanTimeout(d time.Duration) time.Duration {
	return min(max(d, MinScanTimeout), MaxScanTimeout)
}
