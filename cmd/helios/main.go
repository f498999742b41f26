// Package main provides the Helios command-line interface.
package main

import "github.com/helios-labs/helios/internal/cli"

func main() {
	cli.Execute()
}
