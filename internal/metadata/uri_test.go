package metadata

import "testing"

func TestNormalizeURI(t *testing.T) {
	const gw = "https://gateway.example/ipfs/"
	const cidV0 = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

	tests := []struct {
		name     string
		uri      string
		gateway  string
		expected string
	}{
		{"ipfs scheme", "ipfs://" + cidV0, gw, gw + cidV0},
		{"ipfs scheme with path", "ipfs://" + cidV0 + "/meta.json", gw, gw + cidV0 + "/meta.json"},
		{"ipfs scheme with ipfs segment", "ipfs://ipfs/" + cidV0, gw, gw + cidV0},
		{"uppercase scheme", "IPFS://" + cidV0, gw, gw + cidV0},
		{"foreign gateway path", "https://other.io/ipfs/" + cidV0, gw, gw + cidV0},
		{"subpath gateway", "https://host/a/ipfs/" + cidV0 + "/x", gw, gw + cidV0 + "/x"},
		{"plain https untouched", "https://api.example/token/1", gw, "https://api.example/token/1"},
		{"bare cid", cidV0, gw, gw + cidV0},
		{"gateway without slash", "ipfs://" + cidV0, "https://gw.example/ipfs", "https://gw.example/ipfs/" + cidV0},
		{"default gateway", "ipfs://" + cidV0, "", defaultGateway + cidV0},
		{"data uri untouched", "data:application/json,{}", gw, "data:application/json,{}"},
		{"whitespace trimmed", "  ipfs://" + cidV0 + " ", gw, gw + cidV0},
		{"empty", "", gw, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeURI(tc.uri, tc.gateway); got != tc.expected {
				t.Errorf("NormalizeURI(%q) = %q; want %q", tc.uri, got, tc.expected)
			}
		})
	}
}

func TestNormalizeURI_SameTargetForBothForms(t *testing.T) {
	const cid = "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"
	a := NormalizeURI("ipfs://"+cid, "")
	b := NormalizeURI("https://cloudflare-ipfs.com/ipfs/"+cid, "")
	if a != b {
		t.Errorf("expected identical targets, got %q and %q", a, b)
	}
}
