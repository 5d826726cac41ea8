package dedup

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kozaktomas/asset-guard/internal/metadata"
)

var testCollection = common.HexToAddress("0x00000000000000000000000000000000000000aa")

// fakeReader serves a collection whose token id is index+idOffset.
type fakeReader struct {
	supply     *big.Int
	supplyErr  error
	byIndexErr error
	idOffset   int64
	uriErr     map[string]error
	latest     uint64
	latestErr  error
	mints      map[uint64][]*big.Int
	mintErr    map[uint64]error
	block      chan struct{}

	mu          sync.Mutex
	mintCalls   []blockWindow
	latestCalls int
}

func (f *fakeReader) TotalSupply(ctx context.Context, _ common.Address) (*big.Int, error) {
	if f.block != nil {
		<-f.block
	}
	if f.supplyErr != nil {
		return nil, f.supplyErr
	}
	return new(big.Int).Set(f.supply), nil
}

func (f *fakeReader) TokenByIndex(_ context.Context, _ common.Address, index *big.Int) (*big.Int, error) {
	if f.byIndexErr != nil {
		return nil, f.byIndexErr
	}
	return new(big.Int).Add(index, big.NewInt(f.idOffset)), nil
}

func (f *fakeReader) TokenURI(_ context.Context, _ common.Address, tokenID *big.Int) (string, error) {
	if err := f.uriErr[tokenID.String()]; err != nil {
		return "", err
	}
	return tokenURIFor(tokenID.String()), nil
}

func (f *fakeReader) LatestBlock(context.Context) (uint64, error) {
	f.mu.Lock()
	f.latestCalls++
	f.mu.Unlock()
	return f.latest, f.latestErr
}

func (f *fakeReader) MintedTokenIDs(_ context.Context, _ common.Address, from, to uint64) ([]*big.Int, error) {
	f.mu.Lock()
	f.mintCalls = append(f.mintCalls, blockWindow{from: from, to: to})
	f.mu.Unlock()
	if err := f.mintErr[from]; err != nil {
		return nil, err
	}
	return f.mints[from], nil
}

func tokenURIFor(id string) string {
	return "ipfs://token/" + id
}

// fakeResolver maps token URIs to content hashes. Unknown URIs resolve to a
// hash that never matches.
type fakeResolver struct {
	hashes map[string]string
	misses map[string]bool
	calls  atomic.Int64
}

func (r *fakeResolver) Resolve(_ context.Context, uri string) (metadata.Resolution, bool) {
	r.calls.Add(1)
	if r.misses[uri] {
		return metadata.Resolution{TokenURI: uri}, false
	}
	hash, ok := r.hashes[uri]
	if !ok {
		hash = "0xdeadbeef"
	}
	return metadata.Resolution{TokenURI: uri, IPMetadataURI: uri + "/ip", ContentHash: hash}, true
}

type fakeIndex struct {
	mu     sync.Mutex
	rows   map[string]metadata.Resolution
	stores int
}

func (x *fakeIndex) Lookup(_ context.Context, collection, tokenID, tokenURI string) (metadata.Resolution, bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	res, ok := x.rows[collection+"/"+tokenID]
	if !ok || res.TokenURI != tokenURI {
		return metadata.Resolution{}, false, nil
	}
	return res, true, nil
}

func (x *fakeIndex) Store(_ context.Context, collection, tokenID string, res metadata.Resolution) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.rows == nil {
		x.rows = make(map[string]metadata.Resolution)
	}
	x.rows[collection+"/"+tokenID] = res
	x.stores++
	return nil
}

func newTestScanner(reader *fakeReader, resolver Resolver, opts Options) *Scanner {
	return NewScanner(reader, resolver, nil, opts, nil)
}

func TestQuickCheck_FindsRecentToken(t *testing.T) {
	// Index 710 is the 290th most recent of 1000 tokens.
	reader := &fakeReader{supply: big.NewInt(1000), idOffset: 5000}
	resolver := &fakeResolver{hashes: map[string]string{
		tokenURIFor("5710"): "0xABC123",
	}}
	scanner := newTestScanner(reader, resolver, Options{QuickTail: 300})

	m := scanner.QuickCheck(context.Background(), testCollection, "abc123")

	if !m.Found {
		t.Fatalf("expected found, got %+v", m)
	}
	if m.TokenID != "5710" {
		t.Errorf("TokenID = %s; want 5710", m.TokenID)
	}
	if m.TokenURI != tokenURIFor("5710") {
		t.Errorf("TokenURI = %s", m.TokenURI)
	}
	if m.Path != PathQuick {
		t.Errorf("Path = %s; want quick", m.Path)
	}
	if m.Checked != 290 {
		t.Errorf("Checked = %d; want 290", m.Checked)
	}
	if m.Reason != nil {
		t.Errorf("expected no reason on a match, got %+v", m.Reason)
	}
	if reader.latestCalls != 0 {
		t.Error("quick check should not read block numbers")
	}
}

func TestQuickCheck_Idempotent(t *testing.T) {
	reader := &fakeReader{supply: big.NewInt(50), idOffset: 1}
	resolver := &fakeResolver{hashes: map[string]string{tokenURIFor("20"): "0xfeed"}}
	scanner := newTestScanner(reader, resolver, Options{QuickTail: 300})

	first := scanner.QuickCheck(context.Background(), testCollection, "0xfeed")
	second := scanner.QuickCheck(context.Background(), testCollection, "0xfeed")

	if !reflect.DeepEqual(first, second) {
		t.Errorf("repeated quick checks differ:\n%+v\n%+v", first, second)
	}

	missA := scanner.QuickCheck(context.Background(), testCollection, "0x0001")
	missB := scanner.QuickCheck(context.Background(), testCollection, "0x0001")
	if !reflect.DeepEqual(missA, missB) {
		t.Errorf("repeated misses differ:\n%+v\n%+v", missA, missB)
	}
}

func TestQuickCheck_OutsideTail(t *testing.T) {
	// Index 600 is the 400th most recent and outside a tail of 300.
	reader := &fakeReader{supply: big.NewInt(1000)}
	resolver := &fakeResolver{hashes: map[string]string{tokenURIFor("600"): "0xabc"}}
	scanner := newTestScanner(reader, resolver, Options{QuickTail: 300})

	m := scanner.QuickCheck(context.Background(), testCollection, "0xabc")

	if m.Found {
		t.Fatal("token outside the tail should not be found")
	}
	if m.Reason == nil || m.Reason.Kind != ReasonAbsent {
		t.Errorf("expected absent reason, got %+v", m.Reason)
	}
	if m.Checked != 300 {
		t.Errorf("Checked = %d; want 300", m.Checked)
	}
	if m.IsDegraded() {
		t.Error("clean miss should not be degraded")
	}
}

func TestQuickCheck_IndexAsIDFallback(t *testing.T) {
	reader := &fakeReader{
		supply:     big.NewInt(10),
		byIndexErr: errors.New("execution reverted"),
		idOffset:   100,
	}
	resolver := &fakeResolver{hashes: map[string]string{tokenURIFor("7"): "0xbeef"}}
	scanner := newTestScanner(reader, resolver, Options{QuickTail: 300})

	m := scanner.QuickCheck(context.Background(), testCollection, "0xBEEF")

	if !m.Found || m.TokenID != "7" {
		t.Fatalf("expected token 7 via index fallback, got %+v", m)
	}
}

func TestQuickCheck_SmallCollection(t *testing.T) {
	reader := &fakeReader{supply: big.NewInt(3)}
	resolver := &fakeResolver{hashes: map[string]string{tokenURIFor("0"): "0x01"}}
	scanner := newTestScanner(reader, resolver, Options{QuickTail: 300})

	m := scanner.QuickCheck(context.Background(), testCollection, "0x01")
	if !m.Found || m.TokenID != "0" {
		t.Fatalf("expected oldest token 0, got %+v", m)
	}
	if m.Checked != 3 {
		t.Errorf("Checked = %d; want 3", m.Checked)
	}

	empty := newTestScanner(&fakeReader{supply: big.NewInt(0)}, resolver, Options{})
	if got := empty.QuickCheck(context.Background(), testCollection, "0x01"); got.Found || got.Checked != 0 {
		t.Errorf("empty collection: %+v", got)
	}
}

func TestQuickCheck_SupplyUnreadableDegrades(t *testing.T) {
	reader := &fakeReader{supplyErr: errors.New("rpc down")}
	scanner := newTestScanner(reader, &fakeResolver{}, Options{})

	m := scanner.QuickCheck(context.Background(), testCollection, "0xabc")

	if m.Found {
		t.Fatal("expected not found")
	}
	if !m.IsDegraded() {
		t.Fatalf("expected degraded, got %+v", m.Reason)
	}
	if !errors.Is(m.Err(), ErrDegraded) {
		t.Errorf("Err() = %v; want ErrDegraded", m.Err())
	}
	if !strings.Contains(m.Reason.Cause, "rpc down") {
		t.Errorf("cause = %q", m.Reason.Cause)
	}
}

func TestQuickCheck_UnreadableTokensSkipped(t *testing.T) {
	reader := &fakeReader{
		supply: big.NewInt(5),
		uriErr: map[string]error{"4": errors.New("reverted"), "3": errors.New("reverted")},
	}
	resolver := &fakeResolver{
		hashes: map[string]string{tokenURIFor("1"): "0xaa"},
		misses: map[string]bool{tokenURIFor("2"): true},
	}
	scanner := newTestScanner(reader, resolver, Options{})

	m := scanner.QuickCheck(context.Background(), testCollection, "0xaa")

	if !m.Found || m.TokenID != "1" {
		t.Fatalf("expected token 1, got %+v", m)
	}
	if m.Unreadable != 2 {
		t.Errorf("Unreadable = %d; want 2", m.Unreadable)
	}
}

func TestQuickCheck_EmptyTarget(t *testing.T) {
	reader := &fakeReader{supply: big.NewInt(5)}
	resolver := &fakeResolver{}
	scanner := newTestScanner(reader, resolver, Options{})

	if m := scanner.QuickCheck(context.Background(), testCollection, "  "); m.Found {
		t.Error("empty target must never match")
	}
	if resolver.calls.Load() != 0 {
		t.Error("empty target should not resolve anything")
	}
}

func TestWindows(t *testing.T) {
	tests := []struct {
		name     string
		latest   uint64
		lookback uint64
		size     uint64
		expected []blockWindow
	}{
		{"short chain", 100, 1000, 75000, []blockWindow{{0, 100}}},
		{"genesis only", 0, 1000, 75000, []blockWindow{{0, 0}}},
		{"exact fit", 149999, 0, 75000, []blockWindow{{0, 74999}, {75000, 149999}}},
		{"lookback start", 200000, 150000, 75000, []blockWindow{
			{50000, 124999}, {125000, 199999}, {200000, 200000},
		}},
		{"lookback equals latest", 10, 10, 4, []blockWindow{{0, 3}, {4, 7}, {8, 10}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := windows(tc.latest, tc.lookback, tc.size)
			if !reflect.DeepEqual(got, tc.expected) {
				t.Errorf("windows(%d, %d, %d) = %v; want %v", tc.latest, tc.lookback, tc.size, got, tc.expected)
			}
		})
	}
}

func ids(values ...int64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestFullScan_FindsOldToken(t *testing.T) {
	reader := &fakeReader{
		latest: 200,
		mints: map[uint64][]*big.Int{
			0:   ids(1, 2, 3),
			100: ids(3, 4),
			200: ids(5),
		},
	}
	resolver := &fakeResolver{hashes: map[string]string{tokenURIFor("2"): "0xold"}}
	scanner := newTestScanner(reader, resolver, Options{WindowSize: 100, MaxBlockLookback: 1000, WindowConcurrency: 2})

	var calls atomic.Int64
	m := scanner.FullScan(context.Background(), testCollection, "0xOLD", func(done, total int) {
		calls.Add(1)
		if total != 5 {
			t.Errorf("progress total = %d; want 5 distinct ids", total)
		}
	})

	if !m.Found || m.TokenID != "2" {
		t.Fatalf("expected token 2, got %+v", m)
	}
	if m.Path != PathFull {
		t.Errorf("Path = %s; want full", m.Path)
	}
	if len(reader.mintCalls) != 3 {
		t.Errorf("expected 3 window reads, got %v", reader.mintCalls)
	}
	if calls.Load() == 0 {
		t.Error("progress callback never called")
	}
}

func TestFullScan_Absent(t *testing.T) {
	reader := &fakeReader{latest: 50, mints: map[uint64][]*big.Int{0: ids(1, 2)}}
	resolver := &fakeResolver{}
	scanner := newTestScanner(reader, resolver, Options{WindowSize: 100})

	m := scanner.FullScan(context.Background(), testCollection, "0x99", nil)

	if m.Found {
		t.Fatal("expected not found")
	}
	if m.Reason == nil || m.Reason.Kind != ReasonAbsent {
		t.Errorf("expected absent, got %+v", m.Reason)
	}
	if m.Checked != 2 {
		t.Errorf("Checked = %d; want 2", m.Checked)
	}
}

func TestFullScan_PartialWindowFailure(t *testing.T) {
	failing := map[uint64]error{0: errors.New("range too large")}

	t.Run("match in readable window", func(t *testing.T) {
		reader := &fakeReader{
			latest:  150,
			mints:   map[uint64][]*big.Int{100: ids(9)},
			mintErr: failing,
		}
		resolver := &fakeResolver{hashes: map[string]string{tokenURIFor("9"): "0x09"}}
		scanner := newTestScanner(reader, resolver, Options{WindowSize: 100})

		if m := scanner.FullScan(context.Background(), testCollection, "0x09", nil); !m.Found {
			t.Fatalf("expected match despite failed window, got %+v", m)
		}
	})

	t.Run("miss is degraded", func(t *testing.T) {
		reader := &fakeReader{
			latest:  150,
			mints:   map[uint64][]*big.Int{100: ids(9)},
			mintErr: failing,
		}
		scanner := newTestScanner(reader, &fakeResolver{}, Options{WindowSize: 100})

		m := scanner.FullScan(context.Background(), testCollection, "0x09", nil)
		if !m.IsDegraded() {
			t.Fatalf("expected degraded miss, got %+v", m.Reason)
		}
	})

	t.Run("all windows failing", func(t *testing.T) {
		reader := &fakeReader{latest: 50, mintErr: failing}
		scanner := newTestScanner(reader, &fakeResolver{}, Options{WindowSize: 100})

		m := scanner.FullScan(context.Background(), testCollection, "0x09", nil)
		if !m.IsDegraded() || m.Checked != 0 {
			t.Fatalf("expected degraded with nothing checked, got %+v", m)
		}
	})
}

func TestFullScan_LatestBlockUnreadable(t *testing.T) {
	reader := &fakeReader{latestErr: errors.New("timeout")}
	scanner := newTestScanner(reader, &fakeResolver{}, Options{})

	m := scanner.FullScan(context.Background(), testCollection, "0x01", nil)
	if !m.IsDegraded() {
		t.Fatalf("expected degraded, got %+v", m)
	}
}

func TestCheck_QuickOnlySkipsFullScan(t *testing.T) {
	reader := &fakeReader{supply: big.NewInt(5), latest: 100}
	scanner := newTestScanner(reader, &fakeResolver{}, Options{Timeout: time.Second})

	m := scanner.Check(context.Background(), testCollection, "0x01", false)

	if m.Found || m.Path != PathQuick {
		t.Errorf("unexpected match %+v", m)
	}
	if reader.latestCalls != 0 {
		t.Error("full scan ran although not requested")
	}
}

func TestCheck_FallsThroughToFullScan(t *testing.T) {
	reader := &fakeReader{
		supply: big.NewInt(2),
		latest: 10,
		mints:  map[uint64][]*big.Int{0: ids(0, 1, 42)},
	}
	resolver := &fakeResolver{hashes: map[string]string{tokenURIFor("42"): "0x42"}}
	scanner := newTestScanner(reader, resolver, Options{Timeout: time.Second})

	m := scanner.Check(context.Background(), testCollection, "0x42", true)

	if !m.Found || m.Path != PathFull || m.TokenID != "42" {
		t.Fatalf("expected full scan match on 42, got %+v", m)
	}
}

func TestCheck_TimeoutResolvesToNotFound(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	reader := &fakeReader{supply: big.NewInt(5), block: block}
	scanner := newTestScanner(reader, &fakeResolver{}, Options{Timeout: 50 * time.Millisecond})

	start := time.Now()
	m := scanner.Check(context.Background(), testCollection, "0x01", true)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("check blocked for %v", elapsed)
	}
	if m.Found {
		t.Fatal("expected not found on timeout")
	}
	if !m.IsDegraded() || m.Reason.Cause != ErrTimeout.Error() {
		t.Errorf("expected timeout degradation, got %+v", m.Reason)
	}
}

func TestScanner_UsesTokenIndex(t *testing.T) {
	reader := &fakeReader{supply: big.NewInt(3)}
	resolver := &fakeResolver{hashes: map[string]string{tokenURIFor("1"): "0x11"}}
	index := &fakeIndex{}
	scanner := NewScanner(reader, resolver, index, Options{}, nil)

	first := scanner.QuickCheck(context.Background(), testCollection, "0x11")
	if !first.Found {
		t.Fatalf("expected match, got %+v", first)
	}
	callsAfterFirst := resolver.calls.Load()
	if index.stores == 0 {
		t.Fatal("resolutions were not stored in the index")
	}

	second := scanner.QuickCheck(context.Background(), testCollection, "0x11")
	if !second.Found || second.TokenID != first.TokenID {
		t.Fatalf("expected same match from index, got %+v", second)
	}
	if resolver.calls.Load() != callsAfterFirst {
		t.Errorf("resolver called %d more times; index should have served",
			resolver.calls.Load()-callsAfterFirst)
	}
}

func TestScanner_WithMetadataResolver(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ipfs/nft/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/ipfs/nft/")
		fmt.Fprintf(w, `{"ipMetadataURI":"ipfs://ip/%s"}`, id)
	})
	mux.HandleFunc("/ipfs/ip/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/ipfs/ip/")
		fmt.Fprintf(w, `{"imageHash":"0xHASH%s"}`, id)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	reader := &uriReader{fakeReader: fakeReader{supply: big.NewInt(4)}}
	resolver := metadata.NewResolver(metadata.Options{GatewayURL: server.URL + "/ipfs/"}, metadata.NewMemoryCache(time.Minute), nil)
	scanner := NewScanner(reader, resolver, nil, Options{}, nil)

	m := scanner.QuickCheck(context.Background(), testCollection, "0xhash1")

	if !m.Found || m.TokenID != "1" {
		t.Fatalf("expected token 1, got %+v", m)
	}
	if m.IPMetadataURI != "ipfs://ip/1" {
		t.Errorf("IPMetadataURI = %s", m.IPMetadataURI)
	}
}

// uriReader serves ipfs://nft/<id> token URIs.
type uriReader struct {
	fakeReader
}

func (u *uriReader) TokenURI(_ context.Context, _ common.Address, tokenID *big.Int) (string, error) {
	return "ipfs://nft/" + tokenID.String(), nil
}

func unreadableURIs(n int) map[string]error {
	errs := make(map[string]error, n)
	for i := range n {
		errs[fmt.Sprint(i)] = errors.New("rpc: connection refused")
	}
	return errs
}

func TestQuickCheck_UnreadableTokensDegradeMiss(t *testing.T) {
	tests := []struct {
		name       string
		supply     int64
		uriErr     map[string]error
		wantKind   ReasonKind
		unreadable int
	}{
		{"every token unreadable", 10, unreadableURIs(10), ReasonDegraded, 10},
		{"some tokens unreadable", 5, map[string]error{"3": errors.New("rpc: connection refused")}, ReasonDegraded, 1},
		{"all readable", 5, nil, ReasonAbsent, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reader := &fakeReader{supply: big.NewInt(tc.supply), uriErr: tc.uriErr}
			scanner := newTestScanner(reader, &fakeResolver{}, Options{Timeout: time.Second})

			m := scanner.Check(context.Background(), testCollection, "0x01", false)

			if m.Found {
				t.Fatalf("unexpected match %+v", m)
			}
			if m.Reason == nil || m.Reason.Kind != tc.wantKind {
				t.Fatalf("reason = %+v; want %s", m.Reason, tc.wantKind)
			}
			if m.Checked != int(tc.supply) || m.Unreadable != tc.unreadable {
				t.Errorf("checked %d unreadable %d; want %d and %d", m.Checked, m.Unreadable, tc.supply, tc.unreadable)
			}
			if tc.wantKind == ReasonDegraded && !errors.Is(m.Err(), ErrDegraded) {
				t.Errorf("Err() = %v; want ErrDegraded", m.Err())
			}
		})
	}
}

func TestFullScan_UnreadableTokensDegradeMiss(t *testing.T) {
	reader := &fakeReader{
		latest: 50,
		mints:  map[uint64][]*big.Int{0: ids(0, 1, 2)},
		uriErr: unreadableURIs(3),
	}
	scanner := newTestScanner(reader, &fakeResolver{}, Options{WindowSize: 100})

	m := scanner.FullScan(context.Background(), testCollection, "0x01", nil)

	if !m.IsDegraded() {
		t.Fatalf("expected degraded miss, got %+v", m.Reason)
	}
	if m.Checked != 3 || m.Unreadable != 3 {
		t.Errorf("checked %d unreadable %d; want 3 and 3", m.Checked, m.Unreadable)
	}
}

func TestCheck_DegradedQuickFallsThroughToFullScan(t *testing.T) {
	reader := &fakeReader{
		supply: big.NewInt(2),
		latest: 10,
		uriErr: unreadableURIs(2),
		mints:  map[uint64][]*big.Int{0: ids(0, 1, 42)},
	}
	resolver := &fakeResolver{hashes: map[string]string{tokenURIFor("42"): "0x42"}}
	scanner := newTestScanner(reader, resolver, Options{Timeout: time.Second})

	m := scanner.Check(context.Background(), testCollection, "0x42", true)

	if !m.Found || m.Path != PathFull || m.TokenID != "42" {
		t.Fatalf("expected full scan match on 42, got %+v", m)
	}
}
