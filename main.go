// haeca-go - static conflict analysis for Home Assistant automations.
//
// haeca-go turns automations into an event flow graph and reports
// redundant paths, inconsistent actions and circular automations.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/haeca-go/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
