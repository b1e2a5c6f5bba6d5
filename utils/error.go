package utils

import (
	"log"

	"github.com/pkg/errors"
)

// AssertTruef guards programming errors only. I/O failures are returned,
// never asserted.
func AssertTruef(b bool, format string, args ...interface{}) {
	if !b {
		log.Fatalf("%+v", errors.Errorf(format, args...))
	}
}
