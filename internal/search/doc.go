// Package search executes single-condition searches.
//
// Substring, prefix, suffix and full matches run in two steps. The q-grams of
// the expression select candidate documents from the q-gram index; every
// candidate is then verified against its stored text, so the result contains
// no false positives from gram boundary effects. Token modes consult only the
// token index and need no verification.
package search
