package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/taciclei/magneto-serge-sub000/pkg/cassette"
)

func newCassetteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cassette",
		Short: "Inspect cassette files on disk",
	}
	cmd.AddCommand(newCassetteInfoCmd())
	return cmd
}

func newCassetteInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <path>",
		Short: "Print a cassette's metadata (name, format, size, interaction count)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store := cassette.NewStore()
			defer store.Close()

			meta, err := store.Stat(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "name:         %s\n", meta.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "path:         %s\n", meta.Path)
			fmt.Fprintf(cmd.OutOrStdout(), "format:       %s\n", meta.Format)
			fmt.Fprintf(cmd.OutOrStdout(), "size:         %d bytes\n", meta.SizeBytes)
			fmt.Fprintf(cmd.OutOrStdout(), "interactions: %d\n", meta.InteractionCount)
			fmt.Fprintf(cmd.OutOrStdout(), "recorded_at:  %s\n", meta.RecordedAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
}
