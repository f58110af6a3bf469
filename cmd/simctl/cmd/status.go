package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <filename>",
		Short: "Show the background job status for an uploaded file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			job, err := c.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s (job %s, started %s)\n", job.Filename, job.Status, job.ID, humanize.Time(job.StartedAt))
			if job.Error != "" {
				fmt.Fprintf(out, "error: %s\n", job.Error)
			}
			if job.Result != nil {
				printResult(out, job.Result)
			}
			return nil
		},
	}
}
