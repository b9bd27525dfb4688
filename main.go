// SPDX-License-Identifier: MPL-2.0

// runpack builds, publishes, and fetches versioned runtime bundles.
package main

import cmd "github.com/runpack/runpack/cmd/runpack"

func main() {
	cmd.Execute()
}
