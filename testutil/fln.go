package testutil

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// FileLineNumber is the file:line of a case in a table driven test; its
// String form prefixes failure messages and is empty when unknown.
type FileLineNumber string

func (fln FileLineNumber) String() string {
	if fln == "" {
		return ""
	}
	return string(fln) + ": "
}

func position(skip int) FileLineNumber {
	_, fn, ln, ok := runtime.Caller(skip + 1)
	if !ok {
		return ""
	}
	return FileLineNumber(fmt.Sprintf("%s:%d", filepath.Base(fn), ln))
}

// MakeFileLineNumber is meant to be wrapped by a local fln() helper; it
// returns the position of the case which called fln().
func MakeFileLineNumber() FileLineNumber {
	return position(2)
}
