// Package hashing computes the ingestion-time fingerprint of one artifact.
//
// # Overview
//
// A fingerprint has three parts:
//
//  1. Content hash: SHA-256 over the raw bytes. Two artifacts with the same
//     content hash are the same content regardless of where they came from.
//  2. Structure shingles: the markup is tokenized into a stream of
//     tag[attr,...] tokens (text, comments and attribute values are dropped),
//     4-token windows are hashed with xxhash64, and the result is kept as a
//     sorted set. Two shingle sets are compared with Jaccard similarity by the
//     cluster engine.
//  3. Quick features: layout table count, responsive style rules, section
//     keywords and category tags.
//
// # Failure policy
//
// Markup that cannot be tokenized (invalid UTF-8, NUL bytes, no element tags)
// is flagged with Parsed=false and an empty shingle set. It is never an error
// for the caller: the artifact still takes part in exact-hash detection.
//
// # Caching
//
// Everything except the category tags is a pure function of the bytes, so
// the structural part can be cached by content hash in a bbolt file
// (see Cache). Category tags also look at the file name and are recomputed.
package hashing
