// Command notebooksync keeps a local mirror of notebooks, batch tables and
// assistant conversations synchronized with the push server.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
