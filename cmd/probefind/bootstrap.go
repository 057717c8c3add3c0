package main

import (
	"context"
	"log"
	"strconv"

	"github.com/spf13/cobra"
)

func bootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap [iters]",
		Short: "Run correlation-discovery iterations against the existing corpus",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			iters := 50
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil {
					return err
				}
				iters = n
			}

			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ran, discovered, err := a.discoverer.Run(ctx, iters, nil)
			if err != nil {
				return err
			}
			log.Printf("[probefind bootstrap] ran=%d discovered=%d", ran, discovered)
			return nil
		},
	}
}
