package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/linkstack/internal/admin"
	"github.com/danmuck/linkstack/internal/logging"
	"github.com/desertbit/grumble"
	"github.com/rs/zerolog/log"
)

var client *admin.Client

func main() {
	logging.ConfigureRuntime()
	app := setupCLI()
	addCommands(app)
	if err := app.Run(); err != nil {
		log.Fatal().Err(err).Msg("linkctl")
	}
}

func setupCLI() *grumble.App {
	histFile := ".linkctl_history"
	if home, err := os.UserHomeDir(); err == nil {
		histFile = filepath.Join(home, ".linkctl_history")
	}

	app := grumble.New(&grumble.Config{
		Name:        "linkctl",
		Description: "operator console for a linkd admin server",
		HistoryFile: histFile,
		Flags: func(f *grumble.Flags) {
			f.String("a", "addr", "127.0.0.1:9400", "linkd admin address")
			f.Duration("t", "timeout", 5*time.Second, "request timeout")
		},
	})
	app.OnInit(func(a *grumble.App, flags grumble.FlagMap) error {
		client = admin.NewClient(flags.String("addr"), flags.Duration("timeout"))
		return nil
	})
	return app
}

func addCommands(app *grumble.App) {
	app.AddCommand(&grumble.Command{
		Name:    "status",
		Aliases: []string{"st"},
		Help:    "show link counters and layer buffers",
		Run: func(c *grumble.Context) error {
			st, err := client.Status(context.Background())
			if err != nil {
				log.Error().Err(err).Str("addr", client.Base()).Msg("status failed")
				return nil
			}
			c.App.Println(renderStatus(st))
			c.App.Println(renderLayers(st))
			return nil
		},
	})
	app.AddCommand(&grumble.Command{
		Name: "ready",
		Help: "report whether the link is running",
		Run: func(c *grumble.Context) error {
			ready, err := client.Ready(context.Background())
			if err != nil {
				log.Error().Err(err).Msg("ready check failed")
				return nil
			}
			log.Info().Bool("ready", ready).Str("addr", client.Base()).Msg("link readiness")
			return nil
		},
	})
	app.AddCommand(&grumble.Command{
		Name: "send",
		Help: "queue text on the link",
		Flags: func(f *grumble.Flags) {
			f.Bool("x", "hex", false, "treat the argument as hex bytes")
		},
		Args: func(a *grumble.Args) {
			a.StringList("words", "payload text, joined by spaces")
		},
		Run: func(c *grumble.Context) error {
			payload, err := payloadFromArgs(c.Args.StringList("words"), c.Flags.Bool("hex"))
			if err != nil {
				log.Error().Err(err).Msg("bad payload")
				return nil
			}
			if err := client.Send(context.Background(), payload); err != nil {
				log.Error().Err(err).Msg("send failed")
				return nil
			}
			log.Info().Int("bytes", len(payload)).Msg("queued")
			return nil
		},
	})
}

func payloadFromArgs(words []string, isHex bool) ([]byte, error) {
	joined := strings.Join(words, " ")
	if isHex {
		return hex.DecodeString(strings.ReplaceAll(joined, " ", ""))
	}
	if joined == "" {
		return nil, fmt.Errorf("empty payload")
	}
	return []byte(joined), nil
}
