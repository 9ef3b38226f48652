// The main package for the pypi-harvester executable.
package main

import (
	"github.com/JakeFAU/pypi-harvester/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
