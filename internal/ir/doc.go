// Package ir provides the shared data model for scriptfuzz.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal, so it stays the foundational layer
// with no circular dependencies.
//
// Key design constraints:
//   - Argument values are a closed set of variants (see Value)
//   - Test case identity is content addressed over canonical JSON
//   - All JSON tags use snake_case
package ir
