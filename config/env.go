package config

import (
	"fmt"
)

type Split string

const (
	SplitTrain Split = "train"
	SplitValid Split = "valid"
	SplitTest  Split = "test"
)

var (
	ErrInvalidSplit = fmt.Errorf("invalid data split")
)

// Splits lists every data split in canonical order.
var Splits = []Split{SplitTrain, SplitValid, SplitTest}

func ParseSplit(s string) (Split, error) {
	switch Split(s) {
	case SplitTrain, SplitValid, SplitTest:
		return Split(s), nil
	default:
		return "", fmt.Errorf("%w %q, must be one of: %s, %s, %s", ErrInvalidSplit, s, SplitTrain, SplitValid, SplitTest)
	}
}

func (s Split) String() string {
	return string(s)
}

func (s Split) Valid() bool {
	_, err := ParseSplit(string(s))
	return err == nil
}
