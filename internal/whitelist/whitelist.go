// Package whitelist matches perceptual hash variants against the operator
// configured safe list.
package whitelist

import (
	"strings"

	"github.com/kozaktomas/asset-guard/internal/constants"
	"github.com/kozaktomas/asset-guard/internal/fingerprint"
	"go.uber.org/zap"
)

// Decision is the outcome of one whitelist comparison.
type Decision struct {
	Matched            bool                `json:"matched"`
	Distance           int                 `json:"distance"` // -1 when no whitelist is configured
	ThresholdUsed      int                 `json:"threshold_used"`
	VariantUsed        fingerprint.Variant `json:"variant_used,omitempty"`
	UsedLooseThreshold bool                `json:"used_loose_threshold"`
	Entry              string              `json:"entry,omitempty"`
}

// Options controls match thresholds. LooseThreshold 0 means StrictThreshold+6.
type Options struct {
	StrictThreshold int
	LooseEnabled    bool
	LooseThreshold  int
}

func (o Options) looseThreshold() int {
	if o.LooseThreshold > 0 {
		return o.LooseThreshold
	}
	return o.StrictThreshold + constants.LooseThresholdOffset
}

// Matcher holds the immutable whitelist loaded at startup.
type Matcher struct {
	entries []string
	opts    Options
	logger  *zap.Logger
}

// NewMatcher copies and normalizes entries. Blank entries are skipped.
func NewMatcher(entries []string, opts Options, logger *zap.Logger) *Matcher {
	cleaned := make([]string, 0, len(entries))
	for _, e := range entries {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			cleaned = append(cleaned, e)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{entries: cleaned, opts: opts, logger: logger}
}

// Len returns the number of whitelist entries.
func (m *Matcher) Len() int {
	return len(m.entries)
}

// Options returns the thresholds the matcher was built with.
func (m *Matcher) Options() Options {
	return m.opts
}

// Check compares set against the whitelist.
func (m *Matcher) Check(set fingerprint.VariantSet) Decision {
	d := IsWhitelisted(set, m.entries, m.opts)
	m.logger.Debug("whitelist check",
		zap.Bool("matched", d.Matched),
		zap.Int("distance", d.Distance),
		zap.String("variant", string(d.VariantUsed)),
		zap.Bool("loose", d.UsedLooseThreshold),
	)
	return d
}

// IsWhitelisted takes the minimum Hamming distance over every
// (variant, entry) pair. The image matches when that minimum is within the
// strict threshold, or within the loose threshold when loose matching is on.
// An empty whitelist never matches.
func IsWhitelisted(set fingerprint.VariantSet, entries []string, opts Options) Decision {
	decision := Decision{
		Distance:      -1,
		ThresholdUsed: opts.StrictThreshold,
	}
	if len(entries) == 0 || len(set.Hashes) == 0 {
		return decision
	}

	for _, h := range set.Hashes {
		for _, entry := range entries {
			dist := fingerprint.HammingDistance(h.Hex, entry)
			if decision.Distance < 0 || dist < decision.Distance {
				decision.Distance = dist
				decision.VariantUsed = h.Variant
				decision.Entry = entry
			}
		}
	}

	if decision.Distance <= opts.StrictThreshold {
		decision.Matched = true
		return decision
	}
	if opts.LooseEnabled {
		decision.ThresholdUsed = opts.looseThreshold()
		decision.UsedLooseThreshold = true
		decision.Matched = decision.Distance <= decision.ThresholdUsed
	}
	return decision
}
