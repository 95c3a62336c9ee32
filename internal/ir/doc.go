// Package ir provides the canvas data model for tessera.
//
// This package contains type definitions, canonical JSON and digests only.
// All other internal packages import ir; ir imports nothing internal.
//
// Key design constraints:
//   - Block types form a closed set; unknown tags are rejected on decode
//   - Payloads are a sealed union, one variant per block type
//   - The core block is pinned to CorePosition by NormalizeBlock
//   - Selected, Draggable and Deletable never reach the replicated document
//   - Numbers in record fields are float64; canonical JSON prints integral
//     values as integers
package ir
