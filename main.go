// The main package for the civiclens executable.
package main

import (
	"github.com/civiclens/civiclens/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
