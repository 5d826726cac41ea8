package fingerprint

import "github.com/kozaktomas/asset-guard/internal/constants"

// HammingDistance counts differing bits between two hex hashes. Characters
// beyond the shorter hash cost HashPenaltyPerHexChar each, and a character
// that is not a hex digit counts as fully different.
func HammingDistance(hash1, hash2 string) int {
	a, b := normalizeHex(hash1), normalizeHex(hash2)

	n := min(len(a), len(b))
	distance := 0
	for i := range n {
		x, okX := hexNibble(a[i])
		y, okY := hexNibble(b[i])
		if !okX || !okY {
			distance += 4
			continue
		}
		distance += popcount(x ^ y)
	}

	diff := len(a) - len(b)
	if diff < 0 {
		diff = -diff
	}
	return distance + constants.HashPenaltyPerHexChar*diff
}

// Similar returns true if two hashes are within the given threshold.
func Similar(hash1, hash2 string, threshold int) bool {
	return HammingDistance(hash1, hash2) <= threshold
}

// VariantDistance is the closest pair found between two variant sets.
type VariantDistance struct {
	Distance int     `json:"distance"`
	Left     Variant `json:"left_variant"`
	Right    Variant `json:"right_variant"`
}

// MinVariantDistance compares every variant of a with every variant of b
// and returns the smallest Hamming distance. ok is false when either set is empty.
func MinVariantDistance(a, b VariantSet) (VariantDistance, bool) {
	best := VariantDistance{Distance: -1}
	for _, ha := range a.Hashes {
		for _, hb := range b.Hashes {
			d := HammingDistance(ha.Hex, hb.Hex)
			if best.Distance < 0 || d < best.Distance {
				best = VariantDistance{Distance: d, Left: ha.Variant, Right: hb.Variant}
			}
		}
	}
	return best, best.Distance >= 0
}

func hexNibble(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}

func popcount(x byte) int {
	n := 0
	for x != 0 {
		n++
		x &= x - 1 // Clear lowest set bit
	}
	return n
}
