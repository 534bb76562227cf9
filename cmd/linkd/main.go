package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/linkstack/internal/config"
	"github.com/danmuck/linkstack/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "cmd/linkd/config.toml", "path to linkd config")
	check := flag.Bool("check", false, "validate config and chain file, then exit")
	flag.Parse()

	logging.ConfigureRuntime()

	cfg, chain, err := load(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkd: %v\n", err)
		os.Exit(1)
	}
	if *check {
		fmt.Printf("linkd: config ok (mode=%s peer=%s layers=%d)\n", cfg.Mode, cfg.PeerAddr, len(chain.Layers))
		return
	}

	log.Info().
		Str("service", cfg.ID).
		Str("mode", cfg.Mode).
		Str("peer", cfg.PeerAddr).
		Str("admin", cfg.AdminAddr).
		Msg("linkd starting")
	if err := NewService(cfg, chain).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "linkd: %v\n", err)
		os.Exit(1)
	}
}

func load(path string) (serviceConfig, config.ChainFile, error) {
	cfg, err := loadServiceConfig(path)
	if err != nil {
		return serviceConfig{}, config.ChainFile{}, err
	}
	chain, err := loadChain(cfg.ChainFile)
	if err != nil {
		return serviceConfig{}, config.ChainFile{}, err
	}
	// Catch bad layer params before any peer connects.
	if _, err := chain.BuildDriver(); err != nil {
		return serviceConfig{}, config.ChainFile{}, err
	}
	return cfg, chain, nil
}

// loadChain falls back to the built-in checksum/header_footer/slip chain.
func loadChain(path string) (config.ChainFile, error) {
	if path != "" {
		return config.Load(path)
	}
	tmpl, err := config.Template("chain")
	if err != nil {
		return config.ChainFile{}, err
	}
	return config.Parse([]byte(tmpl))
}
