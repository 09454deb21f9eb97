// Package intercept replaces functions inside a scope without changing the
// code that calls them.
//
// Functions are declared in a Catalog. A function declared with a body
// template (DefineFunc, DefineMethod, DefineConstructor) makes its calls
// through a Linker, and a Generator hands the Linker a trampoline for each
// call: a function of the same type that runs a replacement if one is bound
// and otherwise runs a rewritten copy of the callee, whose own calls are
// trampolines too. Replacements therefore reach every call made during a
// Session, however deep.
//
//	in := intercept.New()
//	s := in.BeginTest(t)
//	s.ReplaceFunc(multiply, func(a, b int) int { return a * b })
//	add, _ := intercept.Trampoline[func(int, int) int](in, addID, intercept.DirectCall)
//
// Functions declared by value (Func, Method, Constructor) have no body to
// rewrite. Calls to them are forwarded unchanged and bindings on them are
// ignored. Session.ReplaceEntry covers that case by overwriting the
// compiled entry point with a jump.
//
// Limitations:
//   - Entry replacement supports amd64 and arm64 (with cgo, to flush the
//     instruction cache) on Linux, macOS, the BSDs and Windows
//   - Entry replacement relies on internal runtime APIs that can break at any time
//   - Entry replacement silently fails for inlined functions and can't
//     carry a closure's captured variables
//   - Methods promoted through unexported embedded fields can't be resolved
//     for interface calls
//   - Whether a function is rewritten for an interface call is decided by
//     the first call that rewrites it
package intercept
