package main

// Build information, set with -ldflags "-X main.Version=... -X main.Commit=... -X main.BuildTime=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)
