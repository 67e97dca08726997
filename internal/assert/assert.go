package assert

import (
	"fmt"
)

// Length panics if value is not exactly expected bytes long. Used on
// generated credentials where a wrong length means broken generation.
func Length(value string, expected int) {
	if len(value) != expected {
		msg := fmt.Sprintf("assert.Length expected %d actual %d", expected, len(value))
		panic(msg)
	}
}
