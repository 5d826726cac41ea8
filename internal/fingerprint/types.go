package fingerprint

import "strings"

// Variant identifies the geometric transform a hash was computed under.
type Variant string

const (
	VariantBase                 Variant = "base"
	VariantFlippedHorizontal    Variant = "flipped_horizontal"
	VariantCenterCropped        Variant = "center_cropped"
	VariantCenterCroppedFlipped Variant = "center_cropped_flipped"
)

// Variants lists the four variants in the order they are computed.
var Variants = []Variant{
	VariantBase,
	VariantFlippedHorizontal,
	VariantCenterCropped,
	VariantCenterCroppedFlipped,
}

// Hash is one perceptual hash, hex encoded with 4 bits per character.
type Hash struct {
	Hex     string  `json:"hash"`
	Variant Variant `json:"variant"`
}

// VariantSet holds the four hashes of one image at one hash size.
type VariantSet struct {
	Size      int     `json:"size"`
	CropRatio float64 `json:"crop_ratio"`
	Hashes    []Hash  `json:"hashes"`
}

// Get returns the hash for variant v.
func (s VariantSet) Get(v Variant) (Hash, bool) {
	for _, h := range s.Hashes {
		if h.Variant == v {
			return h, true
		}
	}
	return Hash{}, false
}

// Base returns the hex of the Base variant, the form whitelist entries are stored in.
func (s VariantSet) Base() string {
	h, _ := s.Get(VariantBase)
	return h.Hex
}

// normalizeHex trims whitespace and an optional 0x prefix, and lowercases.
func normalizeHex(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimPrefix(s, "0x")
}
