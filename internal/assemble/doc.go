// Package assemble renders planned sequences into executable artifacts.
//
// Assembly is a pure function of the test case: the same sequence always
// yields the same bytes. The script is a fixed prologue that binds the
// document's form fields and annotations to variables, one guarded
// statement per call, and an epilogue that closes the document.
//
// Two formats are supported. FormatJS emits the bare script. FormatPDF
// wraps it in a one-page document that runs it on open.
package assemble
