// Package relation holds the weak and strong relationship graph between API
// calls.
//
// Weak edges bias which call is picked next. Strong edges carry a predicate
// over two parameters and become constraints only once both endpoints are
// present in a sequence; an edge whose second endpoint never appears is
// dropped, not violated.
package relation
