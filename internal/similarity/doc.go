// Package similarity maintains an approximate-match index over the feature
// vectors of completed jobs. New inputs query it to find prior work whose
// processing parameters can be reused, either as a starting point (match at
// or above the reuse threshold) or wholesale (near-duplicate tier).
//
// The index is advisory. Lookups that fail or find nothing leave the caller
// on its default parameters; nothing in the pipeline depends on a match.
package similarity
