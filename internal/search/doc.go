// Package search provides natural-language tool discovery over the gateway's
// tool catalogue.
//
// Each catalogue entry's name and description are tokenized into a term
// multiset; terms are weighted with TF-IDF (one-smoothed inverse document
// frequency, ln(N/df)+1, over the catalogue) and queries are ranked by cosine
// similarity against each entry's full term vector. Zero-scoring entries are
// omitted, so an unrelated query yields an empty result list rather than a
// long tail of noise.
//
// The index is rebuilt wholesale whenever the catalogue changes and swapped
// in atomically, so searches are lock-free against a consistent build.
package search
