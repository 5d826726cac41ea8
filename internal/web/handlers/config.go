package handlers

import (
	"net/http"

	"github.com/kozaktomas/asset-guard/internal/config"
	"github.com/kozaktomas/asset-guard/internal/constants"
)

// ConfigHandler reports the active thresholds and collaborators.
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Hash        HashSettings   `json:"hash"`
	Whitelist   WhitelistInfo  `json:"whitelist"`
	Scan        ScanSettings   `json:"scan"`
	Face        FaceSettings   `json:"face"`
	Providers   []ProviderInfo `json:"providers"`
	RiskEnabled bool           `json:"risk_enabled"`
	AuditLog    bool           `json:"audit_log"`
}

type HashSettings struct {
	Size            int     `json:"size"`
	CenterCropRatio float64 `json:"center_crop_ratio"`
}

type WhitelistInfo struct {
	Entries         int  `json:"entries"`
	StrictThreshold int  `json:"strict_threshold"`
	LooseEnabled    bool `json:"loose_enabled"`
	LooseThreshold  int  `json:"loose_threshold,omitempty"`
}

type ScanSettings struct {
	Configured       bool   `json:"configured"`
	QuickTail        int    `json:"quick_tail"`
	MaxBlockLookback uint64 `json:"max_block_lookback"`
	WindowSize       uint64 `json:"window_size"`
	TimeoutMillis    int64  `json:"timeout_ms"`
}

type FaceSettings struct {
	Detector            string  `json:"detector"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	FallbackDistance    int     `json:"fallback_distance"`
}

// ProviderInfo represents information about a risk classifier provider
type ProviderInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Get returns the active configuration. Secrets are never included.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	c := h.config

	providers := []ProviderInfo{
		{Name: constants.ProviderOpenAI, Available: c.OpenAI.Token != ""},
		{Name: constants.ProviderGemini, Available: c.Gemini.APIKey != ""},
		{Name: constants.ProviderOllama, Available: true}, // local, always reachable in principle
	}

	response := ConfigResponse{
		Hash: HashSettings{
			Size:            c.Hash.Size,
			CenterCropRatio: c.Hash.CenterCropRatio,
		},
		Whitelist: WhitelistInfo{
			Entries:         len(c.Whitelist.Hashes),
			StrictThreshold: c.Whitelist.StrictThreshold,
			LooseEnabled:    c.Whitelist.LooseEnabled,
			LooseThreshold:  c.Whitelist.LooseThreshold,
		},
		Scan: ScanSettings{
			Configured:       c.Chain.RPCURL != "" && c.Chain.CollectionAddress != "",
			QuickTail:        c.Scan.QuickTail,
			MaxBlockLookback: c.Scan.MaxBlockLookback,
			WindowSize:       c.Scan.WindowSize,
			TimeoutMillis:    c.Scan.Timeout.Milliseconds(),
		},
		Face: FaceSettings{
			Detector:            c.Face.Detector,
			SimilarityThreshold: c.Face.SimilarityThreshold,
			FallbackDistance:    c.Face.FallbackDistance,
		},
		Providers:   providers,
		RiskEnabled: c.Risk.Provider != "",
		AuditLog:    c.Database.URL != "",
	}

	respondJSON(w, http.StatusOK, response)
}
