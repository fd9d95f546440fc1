// Package main is the entry point for the memhub client.
package main

import "github.com/capitalize-ai/memory-hub/internal/cli"

func main() {
	cli.Execute()
}
