// Package vectorstore holds an in-memory collection of embedded text
// segments and answers nearest-neighbor queries over it.
//
// A Store fixes its embedding dimension with the first inserted record and
// rejects any record or query of another dimension with
// ragerr.ErrDimensionMismatch. Search ranks by cosine similarity, highest
// first, with ties resolved by insertion order.
//
// Two indexes are available. IndexFlat is an exact linear scan in float64.
// IndexChromem delegates scoring to chromem-go, which normalizes vectors and
// computes dot products concurrently in float32; its ranking matches the
// flat scan except between records whose similarities differ by less than
// about 1e-6.
//
// Stores serialize to a compact little-endian binary form that preserves
// every float32 bit pattern; see Store.WriteTo and Decode.
package vectorstore
