package config

// Version is injected at build time via ldflags.
//
// Build with:
//
//	go build -ldflags "-X 'github.com/shelfgrab/shelfgrab/internal/config.Version=v1.2.3'" ./cmd/shelfgrab
var Version = "dev"
