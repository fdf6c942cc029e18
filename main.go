// ./main.go
package main

import (
	"github.com/xkilldash9x/deskpilot-cli/cmd"
)

func main() {
	cmd.Execute()
}
