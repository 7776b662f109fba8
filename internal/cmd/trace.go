package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rand/metatot/internal/metatot/trace"
)

var traceCmd = &cobra.Command{
	Use:   "trace <trace-id>",
	Short: "Print a persisted session trace",
	Long: `Print the full payload of a persisted session trace: the session record,
the gate decision, and every node of the planning tree.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("trace-db")
		if path == "" {
			return fmt.Errorf("--trace-db is required to read persisted traces")
		}

		store, err := trace.NewSQLiteStore(trace.SQLiteConfig{Path: path})
		if err != nil {
			return fmt.Errorf("open trace store: %w", err)
		}
		defer store.Close()

		t, err := store.Retrieve(context.Background(), args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			return fmt.Errorf("encode trace: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}
