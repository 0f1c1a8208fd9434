// The main package for the boardcrawler executable.
package main

import (
	"github.com/fconline-rag/boardcrawler/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
