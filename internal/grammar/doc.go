// Package grammar samples argument values from per-parameter grammar rules.
//
// A rule is one of a closed set of kinds (cfg, int, set, bool) plus any kind
// added through RegisterKind. Every rule can sample a value for a seeded
// random source within a depth budget, enumerate the words reachable within
// that budget, and decide whether a value belongs to its language.
//
// Sampling is deterministic: the same rule, seed and depth always produce
// the same value.
package grammar
