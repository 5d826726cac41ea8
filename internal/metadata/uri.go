package metadata

import (
	"strings"
)

const defaultGateway = "https://ipfs.io/ipfs/"

// NormalizeURI rewrites content-addressed references to a fetchable gateway
// URL. Both "ipfs://CID/path" and ".../ipfs/CID/path" become gateway+"CID/path".
// A bare CID is treated the same way. Other http(s) and data URIs pass through.
func NormalizeURI(uri, gateway string) string {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return ""
	}
	gateway = normalizeGateway(gateway)

	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "ipfs://"):
		rest := uri[len("ipfs://"):]
		// Some producers write ipfs://ipfs/CID.
		if strings.HasPrefix(strings.ToLower(rest), "ipfs/") {
			rest = rest[len("ipfs/"):]
		}
		return gateway + strings.TrimPrefix(rest, "/")
	case strings.HasPrefix(lower, "data:"):
		return uri
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		if idx := strings.Index(lower, "/ipfs/"); idx >= 0 {
			return gateway + uri[idx+len("/ipfs/"):]
		}
		return uri
	case looksLikeCID(uri):
		return gateway + uri
	default:
		return uri
	}
}

func normalizeGateway(gateway string) string {
	gateway = strings.TrimSpace(gateway)
	if gateway == "" {
		gateway = defaultGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	return gateway
}

// looksLikeCID recognizes CIDv0 (Qm..., 46 chars) and base32 CIDv1 (bafy..., bafk...).
func looksLikeCID(s string) bool {
	cid, _, _ := strings.Cut(s, "/")
	switch {
	case strings.HasPrefix(cid, "Qm") && len(cid) == 46:
		return true
	case (strings.HasPrefix(cid, "bafy") || strings.HasPrefix(cid, "bafk")) && len(cid) > 50:
		return true
	default:
		return false
	}
}
