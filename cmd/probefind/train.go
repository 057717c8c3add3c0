package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/rawblock/probefind/internal/ingest"
)

func trainCmd() *cobra.Command {
	var (
		discover bool
		bootstrap bool
		reprobe  bool
		threads  int
		shuffle  bool
	)

	cmd := &cobra.Command{
		Use:   "train <dir>",
		Short: "Ingest every image under dir, with optional post-ingest discovery and pruning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if !discover {
				a.settings.DiscoverEveryNIngests = 0
			}
			if threads > 0 {
				a.settings.MaxIngestWorkers = threads
			}
			a.orch = ingest.New(a.loader, a.store, a.selector, a.discoverer, a.governor, ingest.Config{
				RandomComboCount:           a.settings.RandomComboCount,
				RandomPerAug:               a.settings.RandomPerAugmentation,
				Cycles:                     a.settings.IngestCycles,
				GuidedPerCycle:             a.settings.GuidedPerCycle,
				MinGuidedSampleSize:        a.settings.MinGuidedSampleSize,
				MaxWorkers:                 a.settings.MaxIngestWorkers,
				DiscoverEveryNIngests:      a.settings.DiscoverEveryNIngests,
				DiscoverIterations:         a.settings.DiscoverIterationsPerBatch,
				RealtimePruneEveryNIngests: a.settings.RealtimePruneEveryNIngests,
				RealtimePruneMinInterval:   a.settings.RealtimePruneMinInterval(),
				OnProgress: func(ev ingest.ProgressEvent) {
					if ev.Err != nil {
						log.Printf("[probefind train] FAILED %s: %v", ev.Path, ev.Err)
						return
					}
					log.Printf("[probefind train] %s -> image_id=%d features=%d workers=%d", ev.Path, ev.ImageID, ev.FeatureCount, ev.Workers)
				},
			})

			extensions := []string{".jpg", ".jpeg", ".png", ".gif"}
			if err := a.orch.IngestDirectory(ctx, args[0], extensions, shuffle); err != nil {
				return err
			}
			ingested, failed := a.orch.Progress()
			log.Printf("[probefind train] done: ingested=%d failed=%d", ingested, failed)

			if reprobe {
				skipRelated, staleGroups, err := a.governor.RealtimePrune(ctx, 1, 0)
				if err != nil {
					log.Printf("[probefind train] reprobe pruning: %v", err)
				} else {
					log.Printf("[probefind train] reprobe: skip_related=%d stale_groups=%d", skipRelated, staleGroups)
				}
			}

			if bootstrap {
				ran, discovered, err := a.discoverer.Run(ctx, a.settings.DiscoverIterationsPerBatch*4, nil)
				if err != nil {
					return err
				}
				log.Printf("[probefind train] bootstrap: ran=%d discovered=%d", ran, discovered)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&discover, "discover", false, "run periodic correlation discovery during ingestion")
	cmd.Flags().BoolVar(&bootstrap, "bootstrap", false, "run an extra discovery batch once ingestion finishes")
	cmd.Flags().BoolVar(&reprobe, "reprobe", false, "force one real-time prune pass once ingestion finishes")
	cmd.Flags().IntVar(&threads, "threads", 0, "override the adaptive pool's worker ceiling")
	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "shuffle file order before ingesting")

	return cmd
}
