package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/rawblock/probefind/internal/api"
	"github.com/rawblock/probefind/internal/config"
)

func serverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP search/ingest/discovery API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			h := &api.Handler{
				Engine:           a.engine,
				Store:            a.store,
				Orchestrator:     a.orch,
				Discoverer:       a.discoverer,
				Selector:         a.selector,
				Hub:              a.hub,
				RandomComboCount: a.settings.RandomComboCount,
				MinGuidedSample:  a.settings.MinGuidedSampleSize,
				RateLimitPerMin:  a.settings.RateLimitPerMinute,
				RateLimitBurst:   a.settings.RateLimitBurst,
			}
			go a.hub.Run()

			router := api.SetupRouter(h)
			port := config.GetEnvOrDefault("PORT", "8080")
			log.Printf("[probefind server] listening on :%s", port)
			return router.Run(":" + port)
		},
	}
}
