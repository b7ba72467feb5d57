// Package testutils contains helpers shared by package tests: goroutine leak checks and
// synthetic chessboard renders with exact ground truth.
package testutils

import (
	"go.uber.org/goleak"
)

// VerifyTestMain runs the package tests and fails if goroutines outlive them.
func VerifyTestMain(m goleak.TestingM) {
	goleak.VerifyTestMain(m)
}
