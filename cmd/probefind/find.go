package main

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/rawblock/probefind/internal/sampling"
	"github.com/rawblock/probefind/internal/vector"
	"github.com/rawblock/probefind/pkg/models"
)

// findCmd identifies a local image file against the corpus by measuring
// its own probes locally (as a real client would) and driving them
// through the session engine in process, without going over HTTP.
func findCmd() *cobra.Command {
	var maxProbes int

	cmd := &cobra.Command{
		Use:   "find <path>",
		Short: "Identify a local image against the corpus via a probing session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			buf, err := a.loader.Decode(args[0])
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			measure := func(d models.Descriptor) (models.Probe, bool, error) {
				res, err := vector.Extract(buf, d)
				if err == vector.ErrSpanTooLarge {
					return models.Probe{}, false, nil
				}
				if err != nil {
					return models.Probe{}, false, err
				}
				return models.Probe{Descriptor: res.Descriptor, Value: res.Value, RelX: res.RelX, RelY: res.RelY, Size: res.Size}, true, nil
			}

			rng := rand.New(rand.NewSource(1))
			var probe models.Probe
			var ok bool
			for tries := 0; tries < 20 && !ok; tries++ {
				d := sampling.DescriptorFor(rng.Int63(), a.settings.RandomComboCount)
				probe, ok, err = measure(d)
				if err != nil {
					return err
				}
			}
			if !ok {
				return fmt.Errorf("could not realize any probe descriptor against %s", args[0])
			}

			outcome, err := a.engine.Start(ctx, probe)
			if err != nil {
				return err
			}

			for attempt := 1; outcome.Status == models.StatusCandidatesFound && attempt < maxProbes; attempt++ {
				next, err := a.engine.NextQuestion(ctx, outcome.SessionID)
				if err != nil {
					return err
				}
				if next == nil {
					break
				}
				nextProbe, realized, err := measure(*next)
				if err != nil {
					return err
				}
				if !realized {
					continue
				}
				outcome, err = a.engine.Refine(ctx, outcome.SessionID, nextProbe)
				if err != nil {
					return err
				}
			}

			switch outcome.Status {
			case models.StatusMatchFound:
				fmt.Printf("MATCH_FOUND image_id=%d probes=%d\n", outcome.ImageID, len(outcome.Constellation))
			case models.StatusCandidatesFound:
				fmt.Printf("CANDIDATES_FOUND count=%d probes=%d\n", len(outcome.Candidates), len(outcome.Constellation))
			default:
				fmt.Printf("NO_MATCH probes=%d\n", len(outcome.Constellation))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxProbes, "max-probes", 20, "give up with CANDIDATES_FOUND after this many probes")
	return cmd
}
