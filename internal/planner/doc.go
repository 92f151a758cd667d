// Package planner builds API call sequences.
//
// A Planner is shared by every generation worker; each Plan call owns its
// own sequence state and random source, so plans for the same seed are
// identical regardless of which worker builds them.
//
// Sequence lifecycle:
//
//	Empty -> Building -> Complete
//	                  -> Failed
//
// Each step picks an API (following a weak edge of the previous call with
// probability WeakBias in relation modes), chooses a receiver and resolves
// every parameter: instance references from the live instances, hooks as
// nested grammar-only calls, everything else through the solver when a
// strong constraint applies and the grammar otherwise.
package planner
