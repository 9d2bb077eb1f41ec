// The main package for the courtbatch executable.
package main

import (
	"github.com/citydatalab/courtbatch/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
