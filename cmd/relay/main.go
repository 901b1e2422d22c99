// Command relay runs the telemetry relay: it accepts pushed spans,
// metrics, and logs, batches and processes them, and fans them out to
// the configured sinks.
package main

import (
	"fmt"
	"os"
)

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
