// The main package for the leadstream executable.
package main

import (
	"github.com/JakeFAU/leadstream/cmd"
)

func main() {
	cmd.Execute()
}
