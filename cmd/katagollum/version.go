package main

var (
	// Version is set at build time via -ldflags.
	Version = "0.0.0-dev"
)
