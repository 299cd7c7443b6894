package main

import (
	"flag"
	"os"

	"github.com/keyfold/keyfold/internal/platform/config"
	"github.com/keyfold/keyfold/internal/tools/challengekey"
)

func main() {
	cfg, err := challengekey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := challengekey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
