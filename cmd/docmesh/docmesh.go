// SPDX-License-Identifier: ice License 1.0

package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/cobra"

	"github.com/docmesh/docmesh/cfg"
	"github.com/docmesh/docmesh/client"
	"github.com/docmesh/docmesh/identity"
	"github.com/docmesh/docmesh/model"
)

var (
	configPath string
	secretsDir string
	docmesh    = &cobra.Command{
		Use:   "docmesh",
		Short: "docmesh",
		Run: func(cmd *cobra.Command, args []string) {
			cfg.MustInit(configPath)
			run()
		},
	}
	initFlags = func() {
		docmesh.Flags().StringVar(&configPath, "config", "", "path to the yaml configuration file")
		docmesh.Flags().StringVar(&secretsDir, "secrets", "", "directory holding the signing key")
		docmesh.MarkFlagRequired("config")
		docmesh.MarkFlagRequired("secrets")
	}
)

func init() {
	initFlags()
}

func run() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c, err := client.New(cfg.MustGet[client.Config](), &identity.FileSecretStore{Dir: secretsDir})
	if err != nil {
		log.Panic(err)
	}
	defer c.Close()
	if err = c.Init(ctx); err != nil {
		log.Panic(err)
	}
	if err = c.Connect(ctx); err != nil {
		log.Panic(err)
	}
	publicKey, _ := c.PublicKey()
	log.Printf("identity: %v", publicKey)

	c.Subscribe(model.Filter{Kinds: []int{nostr.KindTextNote, model.KindMarketDocument}}, func(_ string, event *model.Event) {
		log.Printf("event kind %v from %v: %.120s", event.Kind, event.PubKey, event.Content)
	})

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err = c.PublishPresence(ctx); err != nil {
				log.Printf("WARN: presence heartbeat failed: %v", err)
			}
		}
	}
}

func main() {
	if err := docmesh.Execute(); err != nil {
		log.Panic(err)
	}
}
