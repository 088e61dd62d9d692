package utils

import (
	"testing"

	"go.viam.com/test"
)

type someStruct struct{}

func TestNewUnexpectedTypeError(t *testing.T) {
	for _, tc := range []struct {
		name     string
		expected interface{}
		actual   interface{}
		errStr   string
	}{
		{"string for int", "exp", 1, "expected string but got int"},
		{"pointer", (*someStruct)(nil), someStruct{}, "expected *utils.someStruct but got utils.someStruct"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := NewUnexpectedTypeError(tc.expected, tc.actual)
			test.That(t, err.Error(), test.ShouldEqual, tc.errStr)
		})
	}
}
