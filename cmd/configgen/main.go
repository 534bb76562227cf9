package main

import (
	"flag"
	"log"

	"github.com/danmuck/linkstack/internal/config"
)

func main() {
	kind := flag.String("kind", "chain", "config kind: chain|daemon")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing chain file")
	input := flag.String("input", "cmd/linkd/chain.toml", "chain file path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		if _, err := cfg.BuildDriver(); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated chain file at %s (%d layers)", *input, len(cfg.Layers))
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "chain":
			target = "cmd/linkd/chain.toml"
		case "daemon":
			target = "cmd/linkd/config.toml"
		default:
			log.Fatalf("unknown kind: %s", *kind)
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
