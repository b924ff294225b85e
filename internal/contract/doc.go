// Package contract defines the document model shared by every other package:
// contracts, type references, and the typed payloads carried by
// action-request, triggered-action, scheduled-action, execute and link
// contracts.
//
// This package imports nothing internal. All other internal packages import
// contract; contract stays the foundational layer.
//
// Key design constraints:
//   - Contract.Data is plain decoded JSON (map[string]any), never typed structs
//   - Typed payloads round-trip through Decode/Encode, not through reflection
//   - All JSON tags follow the persisted document shape (camelCase inside data)
//   - Content hashes use canonical JSON (RFC 8785 key order, NFC strings)
package contract
