package main

import (
	"os"

	"personactl/internal/cli"
)

func main() { os.Exit(cli.Main()) }
