// Command skywatch tracks aircraft and satellites relative to a ground
// observer and predicts their transits across the moon.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
