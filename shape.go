package intercept

// Shape is the way a call site reaches a function. Each shape has its own
// trampoline signature.
type Shape uint8

const (
	_ Shape = iota

	// DirectCall calls a package function or a method with a statically
	// known receiver type. The trampoline has the entry point's type:
	// func(params...) results, or func(*T, params...) results for methods.
	// A DirectCall of a constructor behaves like InitObject.
	DirectCall

	// NewObject allocates and constructs a value:
	// func(params...) *T.
	NewObject

	// InitObject runs a constructor on storage the caller already
	// allocated: func(*T, params...).
	InitObject

	// ConstrainedCall calls a method through a receiver whose concrete type
	// C is known when the trampoline is generated:
	// func(*C, params...) results.
	ConstrainedCall

	// VirtualCall calls an interface method, resolving the implementation
	// from the receiver's dynamic type: func(I, params...) results.
	VirtualCall

	// LoadFunc materializes a function value without calling it:
	// func() EntryType.
	LoadFunc

	// LoadVirtualFunc materializes a method value bound to the receiver,
	// resolving the implementation from the receiver's dynamic type:
	// func(I) func(params...) results.
	LoadVirtualFunc
)

func (s Shape) String() string {
	switch s {
	case DirectCall:
		return "call"
	case NewObject:
		return "newobj"
	case InitObject:
		return "initobj"
	case ConstrainedCall:
		return "constrained call"
	case VirtualCall:
		return "virtual call"
	case LoadFunc:
		return "load func"
	case LoadVirtualFunc:
		return "load virtual func"
	default:
		return ""
	}
}
