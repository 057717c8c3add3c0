package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rawblock/probefind/internal/store"
)

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id|filename>",
		Short: "Delete an image and its feature vectors from the corpus",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			imageID, err := resolveIdentifier(ctx, a, args[0])
			if err != nil {
				return err
			}
			if err := a.store.DeleteImage(ctx, imageID); err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("image %s not found", args[0])
				}
				return err
			}
			log.Printf("[probefind remove] image_id=%d deleted", imageID)
			return nil
		},
	}
}

func resolveIdentifier(ctx context.Context, a *app, identifier string) (int64, error) {
	if id, err := strconv.ParseInt(identifier, 10, 64); err == nil {
		return id, nil
	}
	id, ok, err := a.store.ImageIDByFilename(ctx, identifier)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("image %q not found", identifier)
	}
	return id, nil
}
