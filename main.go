// The main package for the corpus-crawler executable.
package main

import (
	"github.com/JakeFAU/corpus-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
