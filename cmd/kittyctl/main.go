// Command kittyctl drives the kitties state machine against a persistent
// store: one transition per invocation, with events journaled and snapshots
// archived to blob storage.
package main

import (
	"fmt"
	"os"
)

var exitFunc = os.Exit

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		exitFunc(1)
		return
	}
	exitFunc(0)
}
