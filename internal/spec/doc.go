// Package spec is the read-only store of API specifications, grammar rules
// and selection lists a campaign is generated from.
//
// A Store is built once at startup and shared by every generation worker;
// nothing in it is mutated after Load returns.
package spec
