// trustplane is the kernel CLI: enroll agents, authorize intents, run
// the background daemon, and audit the proof plane.
package main

import "github.com/ppiankov/trustplane/internal/cli"

func main() {
	cli.Execute()
}
