package handlers

import (
	"net/http"

	"github.com/kozaktomas/asset-guard/internal/fingerprint"
	"github.com/kozaktomas/asset-guard/internal/whitelist"
)

// HashHandler computes fingerprints and whitelist decisions.
type HashHandler struct {
	hashSize  int
	cropRatio float64
	matcher   *whitelist.Matcher
}

// NewHashHandler creates a new hash handler
func NewHashHandler(hashSize int, cropRatio float64, matcher *whitelist.Matcher) *HashHandler {
	return &HashHandler{
		hashSize:  hashSize,
		cropRatio: cropRatio,
		matcher:   matcher,
	}
}

// HashResponse is returned by POST /hash.
type HashResponse struct {
	FileName    string                 `json:"file_name,omitempty"`
	ContentHash string                 `json:"content_hash"`
	Variants    fingerprint.VariantSet `json:"variants"`
}

// WhitelistResponse is returned by POST /whitelist/check.
type WhitelistResponse struct {
	ContentHash string             `json:"content_hash"`
	Hash        string             `json:"hash"`
	Decision    whitelist.Decision `json:"decision"`
}

func (h *HashHandler) variants(w http.ResponseWriter, r *http.Request) (fingerprint.VariantSet, []byte, string, bool) {
	if !parseUpload(w, r) {
		return fingerprint.VariantSet{}, nil, "", false
	}
	data, name, err := readFormFile(r, "file")
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return fingerprint.VariantSet{}, nil, "", false
	}
	set, err := fingerprint.ComputeVariantsFromBytes(data, h.hashSize, h.cropRatio)
	if err != nil {
		respondError(w, statusForError(err), "failed to decode image")
		return fingerprint.VariantSet{}, nil, "", false
	}
	return set, data, name, true
}

// Hash handles POST /hash.
func (h *HashHandler) Hash(w http.ResponseWriter, r *http.Request) {
	set, data, name, ok := h.variants(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, HashResponse{
		FileName:    name,
		ContentHash: fingerprint.ContentHash(data),
		Variants:    set,
	})
}

// CheckWhitelist handles POST /whitelist/check.
func (h *HashHandler) CheckWhitelist(w http.ResponseWriter, r *http.Request) {
	set, data, _, ok := h.variants(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, WhitelistResponse{
		ContentHash: fingerprint.ContentHash(data),
		Hash:        set.Base(),
		Decision:    h.matcher.Check(set),
	})
}
