// Command foreman plans an objective into a task graph and drives it to a
// validated result.
//
// Usage:
//
//	foreman run [objective...]   plan and execute an objective
//	foreman status <project-id>  show progress of a project
//	foreman projects             list projects
//	foreman version              print version
package main

import (
	"os"

	"github.com/overhuman/foreman/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
