// Command enrichd turns raw collaboration-platform records into enriched
// documents, loads identities into the directory and runs post-enrichment studies
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
