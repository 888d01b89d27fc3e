// Package main is the single-binary entrypoint for the loyalty engine.
package main

import "github.com/rideloop/loyalty/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
