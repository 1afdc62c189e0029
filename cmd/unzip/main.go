// Command unzip extracts, lists, and tests ZIP archives.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errEntriesFailed) {
			fmt.Fprintln(os.Stderr, "unzip:", err)
		}
		os.Exit(1)
	}
}
