// Package attr defines the value model shared by local records and remote
// snapshots.
//
// Values follow the JSON data model: nil, bool, int64, float64, string,
// []any and map[string]any. Normalize converts arbitrary Go values into that
// model so every other package can type-switch on a closed set of types.
//
// Equality between attribute values is decided on canonical JSON (RFC 8785
// key ordering by UTF-16 code units, NFC-normalized strings), so that 1 and
// 1.0 compare equal and map iteration order never matters.
package attr
