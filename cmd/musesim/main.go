// Command musesim runs the PHOLD benchmark workload against the
// simulation kernel; see internal/cli for flag handling.
package main

import "github.com/raodj/musesim/internal/cli"

func main() {
	cli.Execute()
}
