// Command probefind ingests a corpus of images into quantized feature
// vectors and answers content-based search sessions over them, either
// through a one-shot CLI or an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "probefind",
		Short: "Content-based image retrieval over a corpus of quantized geometric probes",
		Long: `probefind ingests images into a corpus of hashed, quantized feature
vectors and lets a client locate one of them by answering a short
sequence of geometric probes instead of uploading the image itself.

Environment variables supply the database connection, the server port
and overrides for RANDOM_COMBO_COUNT, MAX_INGEST_WORKERS, MAX_DB_SIZE_GB
and MAX_IMAGE_DIMENSION; every other numeric knob is read only from
probefind.yaml. See .env.example.`,
	}

	root.AddCommand(addCmd())
	root.AddCommand(removeCmd())
	root.AddCommand(bootstrapCmd())
	root.AddCommand(trainCmd())
	root.AddCommand(serverCmd())
	root.AddCommand(findCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "probefind: %v\n", err)
		os.Exit(1)
	}
}
