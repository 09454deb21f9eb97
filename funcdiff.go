package intercept

import (
	"errors"
	"fmt"
	"reflect"
)

type sigDifferences struct {
	In       []*typeDifference
	Out      []*typeDifference
	Variadic bool
}

type typeDifference struct {
	Want reflect.Type
	Got  reflect.Type
}

func (d *sigDifferences) Error() error {
	errs := []error{}
	for i, arg := range d.In {
		if arg != nil {
			errs = append(errs, fmt.Errorf("argument %d: want %s, got %s", i, describeType(arg.Want), describeType(arg.Got)))
		}
	}
	for i, out := range d.Out {
		if out != nil {
			errs = append(errs, fmt.Errorf("result %d: want %s, got %s", i, describeType(out.Want), describeType(out.Got)))
		}
	}
	if d.Variadic {
		errs = append(errs, errors.New("variadic mismatch"))
	}
	return errors.Join(errs...)
}

func describeType(t reflect.Type) string {
	if t == nil {
		return "nothing"
	}
	return t.String()
}

// diffSignatures compares two func types position by position. Missing
// positions on either side are reported against a nil type.
func diffSignatures(want, got reflect.Type) *sigDifferences {
	diff := sigDifferences{
		In:  diffTypes(want.NumIn(), want.In, got.NumIn(), got.In),
		Out: diffTypes(want.NumOut(), want.Out, got.NumOut(), got.Out),
	}
	diff.Variadic = want.IsVariadic() != got.IsVariadic()
	return &diff
}

func diffTypes(nWant int, want func(int) reflect.Type, nGot int, got func(int) reflect.Type) []*typeDifference {
	diffs := make([]*typeDifference, max(nWant, nGot))
	for i := range diffs {
		var w, g reflect.Type
		if i < nWant {
			w = want(i)
		}
		if i < nGot {
			g = got(i)
		}
		if w != g {
			diffs[i] = &typeDifference{Want: w, Got: g}
		}
	}
	return diffs
}
