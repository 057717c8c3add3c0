package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"
)

func addCmd() *cobra.Command {
	var discoverIterations int

	cmd := &cobra.Command{
		Use:   "add <path>",
		Short: "Ingest a single image into the corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			imageID, featureCount, err := a.orch.IngestOne(ctx, args[0])
			if err != nil {
				return fmt.Errorf("ingest %s: %w", args[0], err)
			}
			log.Printf("[probefind add] image_id=%d features=%d path=%s", imageID, featureCount, args[0])

			if discoverIterations > 0 {
				ran, discovered, err := a.discoverer.Run(ctx, discoverIterations, nil)
				if err != nil {
					return fmt.Errorf("post-ingest discovery: %w", err)
				}
				log.Printf("[probefind add] discovery ran=%d discovered=%d", ran, discovered)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&discoverIterations, "discover", 0, "run N correlation-discovery iterations after ingesting")
	return cmd
}
