package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"simulate-now/internal/runner"
)

func submitCmd() *cobra.Command {
	interval, attempts := pollDefaults()
	cmd := &cobra.Command{
		Use:   "submit ./path/to/line.xml",
		Short: "Upload a configuration file and run the simulator on it",
		Long: `Upload a configuration file and run the simulator on it.

By default the command waits for the simulator and prints its output. With
--background the backend runs it as a background job; add --wait to poll
until the job has finished.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(cmd)
			if err != nil {
				return err
			}
			background, _ := cmd.Flags().GetBool("background")
			wait, _ := cmd.Flags().GetBool("wait")
			every, _ := cmd.Flags().GetDuration("poll-interval")
			tries, _ := cmd.Flags().GetUint("poll-attempts")

			path := args[0]
			f, err := os.Open(path)
			if err != nil {
				return errors.Wrap(err, "opening configuration file")
			}
			defer f.Close()
			info, err := f.Stat()
			if err != nil {
				return errors.Wrap(err, "reading file info")
			}
			name := filepath.Base(path)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Uploading %s (%s)\n", name, humanize.IBytes(uint64(info.Size())))

			if !background {
				res, err := c.ProcessFile(cmd.Context(), name, f)
				if err != nil {
					return err
				}
				printResult(out, res)
				return nil
			}

			sub, err := c.SubmitFile(cmd.Context(), name, f)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Started job %s for %s\n", sub.ID, sub.Filename)
			if !wait {
				return nil
			}

			job, err := c.WaitFinished(cmd.Context(), sub.Filename, every, tries)
			if err != nil {
				return errors.Wrapf(err, "waiting for %s", sub.Filename)
			}
			if job.Error != "" {
				fmt.Fprintf(out, "Job failed: %s\n", job.Error)
			}
			if job.Result != nil {
				printResult(out, job.Result)
			}
			return nil
		},
	}
	cmd.Flags().Bool("background", false, "Run the simulation as a background job.")
	cmd.Flags().Bool("wait", false, "With --background, poll until the job finishes.")
	cmd.Flags().Duration("poll-interval", interval, "Delay between status polls.")
	cmd.Flags().Uint("poll-attempts", attempts, "Maximum number of status polls.")
	return cmd
}

func printResult(out io.Writer, res *runner.Result) {
	took := time.Duration(res.DurationMS) * time.Millisecond
	fmt.Fprintf(out, "%s finished with exit code %d in %s (%s)\n",
		res.Filename, res.ExitCode, took, humanize.Time(res.FinishedAt))
	for _, section := range []struct {
		title string
		body  string
	}{
		{"stdout", res.Stdout},
		{"stderr", res.Stderr},
		{"log", res.Log},
	} {
		if strings.TrimSpace(section.body) == "" {
			continue
		}
		fmt.Fprintf(out, "--- %s ---\n%s", section.title, section.body)
		if !strings.HasSuffix(section.body, "\n") {
			fmt.Fprintln(out)
		}
	}
}
