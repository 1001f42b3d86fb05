package crawlcore

import (
	"context"
	"crypto/sha256"
	"hash/fnv"
	"math/bits"
	"sync"

	"github.com/bits-and-blooms/bitset"
)

const (
	shingleSize    = 5
	simhashBands   = 4
	simhashBandBits = 16
	minhashK       = 128
	lsBands        = 16
	lsRowsPerBand  = minhashK / lsBands
	simhashHammingThreshold = 3
	jaccardThreshold        = 0.8
)

// minhashPermutations are the 128 (a, b) coefficients for the permutation
// family h_i(x) = (a_i*x + b_i) mod p, fixed at package init so signatures
// computed at different times remain comparable.
var minhashPermutations = generatePermutations(minhashK)

const mersennePrime = (1 << 61) - 1

func generatePermutations(k int) [][2]uint64 {
	perms := make([][2]uint64, k)
	// Deterministic LCG seed so the permutation family is fixed across runs
	// without depending on math/rand's global state or requiring config.
	state := uint64(0x9E3779B97F4A7C15)
	next := func() uint64 {
		state = state*6364136223846793005 + 1442695040888963407
		return state
	}
	for i := 0; i < k; i++ {
		a := next()%(mersennePrime-1) + 1
		b := next() % mersennePrime
		perms[i] = [2]uint64{a, b}
	}
	return perms
}

// ComputeSimHash builds a 64-bit SimHash over 5-shingles of text: each
// shingle is hashed to 64 bits, and for each bit position the vote total
// across all shingles decides whether the output bit is set.
func ComputeSimHash(text string) uint64 {
	shingles := Shingles(text, shingleSize)
	if len(shingles) == 0 {
		return 0
	}
	var weights [64]int
	for _, s := range shingles {
		h := fnv.New64a()
		_, _ = h.Write([]byte(s))
		hv := h.Sum64()
		for bit := 0; bit < 64; bit++ {
			if hv&(1<<uint(bit)) != 0 {
				weights[bit]++
			} else {
				weights[bit]--
			}
		}
	}
	var out uint64
	for bit := 0; bit < 64; bit++ {
		if weights[bit] > 0 {
			out |= 1 << uint(bit)
		}
	}
	return out
}

// simhashBand extracts band i (0-3) of 16 bits from a 64-bit SimHash for
// banded candidate lookup: two hashes with Hamming distance <= 3 must share
// at least one 16-bit band exactly (pigeonhole over 4 bands).
func simhashBand(h uint64, i int) uint16 {
	return uint16(h >> uint(i*simhashBandBits))
}

// ComputeMinHash builds a 128-element MinHash signature over 5-shingles of
// text using the fixed permutation family, for bulk Jaccard-similarity
// queries via LSH banding.
func ComputeMinHash(text string) [minhashK]uint64 {
	var sig [minhashK]uint64
	for i := range sig {
		sig[i] = ^uint64(0)
	}
	shingles := Shingles(text, shingleSize)
	if len(shingles) == 0 {
		return sig
	}
	for _, s := range shingles {
		h := fnv.New64a()
		_, _ = h.Write([]byte(s))
		x := h.Sum64() % mersennePrime
		for i, perm := range minhashPermutations {
			hi, lo := bits.Mul64(perm[0], x)
			lo, carry := bits.Add64(lo, perm[1], 0)
			v := bits.Rem64(hi+carry, lo, mersennePrime)
			if v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// lshBandKey hashes minhashK/lsBands consecutive signature rows into one
// bucket key per band; two documents sharing a bucket in any band are
// candidates for the 0.8 Jaccard threshold the banding is tuned for.
func lshBandKey(sig [minhashK]uint64, band int) uint64 {
	h := fnv.New64a()
	start := band * lsRowsPerBand
	buf := make([]byte, 8)
	for i := start; i < start+lsRowsPerBand; i++ {
		v := sig[i]
		for j := 0; j < 8; j++ {
			buf[j] = byte(v >> (8 * j))
		}
		_, _ = h.Write(buf)
	}
	return h.Sum64()
}

// MemoryContentDedup is the in-process, two-tier content dedup index: exact
// SHA-256 match, then SimHash banded near-duplicate lookup, backed by a
// MinHash/LSH index for bulk similarity queries. Grounded on the teacher's
// sha256.Sum256 blob-hash idiom in internal/crawler/colly_crawler.go,
// generalized with SimHash/MinHash which the teacher never needed.
type MemoryContentDedup struct {
	mu sync.Mutex

	exact      map[[32]byte]struct{}
	bandTables [simhashBands]map[uint16][]uint64
	// bandPresence gates each bandTables lookup with a 65536-bit membership
	// map (one bit per possible uint16 band value), so a band that has never
	// held a candidate is rejected without touching the map at all.
	bandPresence [simhashBands]*bitset.BitSet
	lshTables    [lsBands]map[uint64][][minhashK]uint64
}

// NewMemoryContentDedup builds an empty content dedup index.
func NewMemoryContentDedup() *MemoryContentDedup {
	d := &MemoryContentDedup{
		exact: make(map[[32]byte]struct{}),
	}
	for i := range d.bandTables {
		d.bandTables[i] = make(map[uint16][]uint64)
		d.bandPresence[i] = bitset.New(1 << simhashBandBits)
	}
	for i := range d.lshTables {
		d.lshTables[i] = make(map[uint64][][minhashK]uint64)
	}
	return d
}

// Fingerprint computes the SHA-256, SimHash, and MinHash signature for text.
func (d *MemoryContentDedup) Fingerprint(text []byte) ContentFingerprint {
	s := string(text)
	return ContentFingerprint{
		SHA256:  sha256.Sum256(text),
		SimHash: ComputeSimHash(s),
		MinHash: ComputeMinHash(s),
	}
}

// IsDuplicate checks exact SHA-256 match first, then SimHash Hamming
// distance <= 3 via banded lookup, then MinHash/LSH candidate buckets
// confirmed by exact Jaccard estimate >= 0.8. Both indexes are append-only:
// IsDuplicate never removes anything, matching spec.md's dedup semantics.
func (d *MemoryContentDedup) IsDuplicate(ctx context.Context, fp ContentFingerprint) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.exact[fp.SHA256]; ok {
		return true, nil
	}

	for i := 0; i < simhashBands; i++ {
		band := simhashBand(fp.SimHash, i)
		if !d.bandPresence[i].Test(uint(band)) {
			continue
		}
		for _, candidate := range d.bandTables[i][band] {
			if bits.OnesCount64(candidate^fp.SimHash) <= simhashHammingThreshold {
				return true, nil
			}
		}
	}

	for i := 0; i < lsBands; i++ {
		key := lshBandKey(fp.MinHash, i)
		for _, candidate := range d.lshTables[i][key] {
			if estimateJaccard(candidate, fp.MinHash) >= jaccardThreshold {
				return true, nil
			}
		}
	}

	return false, nil
}

// Record appends fp to all three indexes.
func (d *MemoryContentDedup) Record(ctx context.Context, fp ContentFingerprint) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.exact[fp.SHA256] = struct{}{}
	for i := 0; i < simhashBands; i++ {
		band := simhashBand(fp.SimHash, i)
		d.bandTables[i][band] = append(d.bandTables[i][band], fp.SimHash)
		d.bandPresence[i].Set(uint(band))
	}
	for i := 0; i < lsBands; i++ {
		key := lshBandKey(fp.MinHash, i)
		d.lshTables[i][key] = append(d.lshTables[i][key], fp.MinHash)
	}
	return nil
}

func estimateJaccard(a, b [minhashK]uint64) float64 {
	matches := 0
	for i := range a {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(minhashK)
}
