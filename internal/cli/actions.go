package cli

import (
	"personactl/internal/config"
	"personactl/internal/host"
	"personactl/internal/status"
)

// Indirection layer to allow stubbing in tests

var (
	fnNewHost       = func(opts host.Options) host.Host { return host.New(opts) }
	fnResolveConfig = config.Resolve
	fnServeStatus   = status.Serve
)
