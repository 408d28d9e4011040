// The main package for the extractor executable.
package main

import (
	"github.com/eventscope/extractor/cmd"
)

func main() {
	cmd.Execute()
}
