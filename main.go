// The main package for the commentater executable.
package main

import (
	"github.com/skairunner/commentater/cmd"
)

func main() {
	cmd.Execute()
}
