// Package segment partitions a requested output duration into fixed-length
// segments and attaches an opaque descriptor to each one.
//
// Plan is a pure function: the same total, length, and cap always yield the
// same segments, indexed 0..N-1 and covering [0, T) without gaps or overlaps
// (the final segment is clipped to T). Describers fill the Descriptor field
// that is later handed to the generation provider unchanged.
package segment
