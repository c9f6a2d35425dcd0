package main

import (
	"os"
)

func main() {
	initHelp(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		outputError(os.Stderr, err)
		os.Exit(1)
	}
}
