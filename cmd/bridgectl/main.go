// bridgectl administers the assistant bridge: assistant sync, artifact
// fingerprints and stored chat mappings.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd(defaultDeps()).Execute(); err != nil {
		os.Exit(1)
	}
}
