package hashing

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"github.com/steveyegge/forge/internal/types"
	"golang.org/x/net/html"
)

// ShingleSize is the number of structure tokens per n-gram
const ShingleSize = 4

// ContentHash returns the hex SHA-256 digest of the raw bytes
func ContentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// StructureDigest returns a hex SHA-256 digest over a sorted shingle set.
// An empty set yields the empty string.
func StructureDigest(shingles []uint64) string {
	if len(shingles) == 0 {
		return ""
	}
	h := sha256.New()
	var buf [8]byte
	for _, s := range shingles {
		binary.BigEndian.PutUint64(buf[:], s)
		h.Write(buf[:])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// skeleton is the tag/attribute stream of one artifact
type skeleton struct {
	tokens     []string
	tableCount int
}

// tokenize walks the markup and keeps only the tag skeleton.
// Text, comments, doctype and end tags are discarded; raw script and style
// bodies come back from the tokenizer as text and are discarded with it.
func tokenize(b []byte) (*skeleton, error) {
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("%w: invalid UTF-8", types.ErrUnparseable)
	}
	if bytes.IndexByte(b, 0) >= 0 {
		return nil, fmt.Errorf("%w: NUL byte in markup", types.ErrUnparseable)
	}

	sk := &skeleton{}
	z := html.NewTokenizer(bytes.NewReader(b))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if errors.Is(z.Err(), io.EOF) {
				if len(sk.tokens) == 0 {
					return nil, fmt.Errorf("%w: no element tags", types.ErrUnparseable)
				}
				return sk, nil
			}
			return nil, fmt.Errorf("%w: %v", types.ErrUnparseable, z.Err())

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			tag := string(name)
			var attrs []string
			for hasAttr {
				var key []byte
				key, _, hasAttr = z.TagAttr()
				if k := strings.TrimSpace(string(key)); k != "" {
					attrs = append(attrs, k)
				}
			}
			if tag == "table" {
				sk.tableCount++
			}
			sk.tokens = append(sk.tokens, structureToken(tag, attrs))
		}
	}
}

// structureToken renders a tag and its attribute names as "tag[a,b,c]"
func structureToken(tag string, attrs []string) string {
	if len(attrs) == 0 {
		return tag
	}
	slices.Sort(attrs)
	attrs = slices.Compact(attrs)
	return tag + "[" + strings.Join(attrs, ",") + "]"
}

// shingleSet hashes each n-gram window of the token stream into a sorted set.
// A stream shorter than one window becomes a single shingle.
func shingleSet(tokens []string, n int) []uint64 {
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) < n {
		return []uint64{xxhash.Sum64String(strings.Join(tokens, "/"))}
	}

	set := make([]uint64, 0, len(tokens)-n+1)
	for i := 0; i+n <= len(tokens); i++ {
		set = append(set, xxhash.Sum64String(strings.Join(tokens[i:i+n], "/")))
	}
	slices.Sort(set)
	return slices.Compact(set)
}

// Shingles returns the structure shingle set of the markup.
// The error wraps types.ErrUnparseable when the markup cannot be tokenized.
func Shingles(b []byte) ([]uint64, error) {
	sk, err := tokenize(b)
	if err != nil {
		return nil, err
	}
	return shingleSet(sk.tokens, ShingleSize), nil
}

// Jaccard returns |a∩b| / |a∪b| for two sorted, de-duplicated shingle sets.
// Two empty sets have similarity 0: an empty set never matches anything.
func Jaccard(a, b []uint64) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
