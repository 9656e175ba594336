package hashing

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/steveyegge/forge/internal/types"
)

// Fingerprint is the full hashing output for one artifact
type Fingerprint struct {
	ContentHash string
	Shingles    []uint64
	Parsed      bool
	Features    types.QuickFeatures

	// ParseError explains why Parsed is false. It wraps types.ErrUnparseable.
	ParseError error
}

// structure is the part of a fingerprint that depends only on the bytes
type structure struct {
	Shingles        []uint64 `json:"shingles,omitempty"`
	Parsed          bool     `json:"parsed"`
	TableCount      int      `json:"table_count"`
	HasMediaQueries bool     `json:"has_media_queries"`
	Sections        []string `json:"sections,omitempty"`
	ParseError      string   `json:"parse_error,omitempty"`
}

// Hasher computes fingerprints, optionally through a content-hash cache.
// A Hasher is safe for concurrent use.
type Hasher struct {
	cache  *Cache
	logger *slog.Logger
}

// NewHasher creates a hasher. cache and logger may be nil.
func NewHasher(cache *Cache, logger *slog.Logger) *Hasher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hasher{cache: cache, logger: logger}
}

// Fingerprint hashes one artifact. name is the artifact's file name and is
// only used for category tagging. It never fails: unparseable markup comes
// back with Parsed=false and ParseError set.
func (h *Hasher) Fingerprint(name string, content []byte) *Fingerprint {
	hash := ContentHash(content)

	var st *structure
	if h.cache != nil {
		cached, err := h.cache.get(hash)
		if err != nil {
			h.logger.Warn("Fingerprint cache read failed", "content_hash", hash, "error", err)
		}
		st = cached
	}
	if st == nil {
		st = computeStructure(content)
		if h.cache != nil {
			if err := h.cache.put(hash, st); err != nil {
				h.logger.Warn("Fingerprint cache write failed", "content_hash", hash, "error", err)
			}
		}
	}

	fp := &Fingerprint{
		ContentHash: hash,
		Shingles:    st.Shingles,
		Parsed:      st.Parsed,
		Features: types.QuickFeatures{
			TableCount:       st.TableCount,
			HasMediaQueries:  st.HasMediaQueries,
			SectionsDetected: st.Sections,
			Categories:       categorize(name, bytes.ToLower(content)),
		},
	}
	if !st.Parsed {
		fp.ParseError = fmt.Errorf("%w: %s", types.ErrUnparseable, st.ParseError)
	}
	return fp
}

// computeStructure derives the cacheable part of a fingerprint
func computeStructure(content []byte) *structure {
	lower := bytes.ToLower(content)
	st := &structure{
		HasMediaQueries: responsive(lower),
		Sections:        sections(lower),
	}

	sk, err := tokenize(content)
	if err != nil {
		// Exact-hash participation only; fall back to a substring table count
		st.ParseError = strings.TrimPrefix(err.Error(), types.ErrUnparseable.Error()+": ")
		if !errors.Is(err, types.ErrUnparseable) {
			st.ParseError = err.Error()
		}
		st.TableCount = bytes.Count(lower, []byte("<table"))
		return st
	}

	st.Parsed = true
	st.TableCount = sk.tableCount
	st.Shingles = shingleSet(sk.tokens, ShingleSize)
	return st
}
