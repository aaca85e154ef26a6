// Package text derives the searchable units of a document.
//
// Two extraction strategies coexist:
//
//   - [QGrams] splits text into overlapping windows of [Q] runes. Windows are
//     lower-cased per rune and the text is wrapped with [StartAnchor] and
//     [EndAnchor], so prefix, suffix and full-text queries can be answered
//     from the same dictionary as substring queries.
//   - [Tokens] segments text into words following UAX #29 after NFKC
//     normalization and lower-casing.
//
// Every function is pure. Query expressions go through the same functions as
// indexed text, so a query unit always matches the unit stored for a document
// containing the expression.
package text
