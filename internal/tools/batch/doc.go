// Package batch provides common utilities for tools that accept one or
// many targets in a single call.
//
// This package includes helpers for:
//   - Parsing parameters that accept both single values and arrays
//   - Running an operation per item while collecting partial failures
//   - Formatting per-item outcomes as readable tool output
package batch
