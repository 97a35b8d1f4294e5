// ABOUTME: Entry point for the flacrelay command
// ABOUTME: Hands control to the cobra command tree
package main

import "github.com/Resonate-Protocol/flacrelay/internal/cli"

func main() {
	cli.Execute()
}
