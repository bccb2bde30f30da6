package cmd

import (
	"fmt"

	"github.com/AlfredBerg/rod-capture/internal/export"
	"github.com/goccy/go-yaml"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// maxBatchFile limits the size of a batch file.
const maxBatchFile = 1 << 20

// batchFile is the YAML layout read by the batch command:
//
//	concurrency: 2
//	jobs:
//	  - target: https://www.trendmicro.com/
//	    output: trendmicro.pdf
//	    selector: main.container-fluid
//	    paper: A2
type batchFile struct {
	Concurrency int              `yaml:"concurrency"`
	Jobs        []export.JobSpec `yaml:"jobs"`
}

// loadBatch reads and validates every job of a batch file. Nothing runs if
// one of them is invalid.
func loadBatch(fs afero.Fs, path string) (batchFile, []*export.Job, error) {
	var bf batchFile

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return bf, nil, err
	}
	if len(data) > maxBatchFile {
		return bf, nil, fmt.Errorf("%w: batch file %s exceeds %d bytes", export.ErrInvalidJob, path, maxBatchFile)
	}
	if err := yaml.UnmarshalWithOptions(data, &bf, yaml.Strict()); err != nil {
		return bf, nil, fmt.Errorf("%w: %s: %v", export.ErrInvalidJob, path, err)
	}
	if len(bf.Jobs) == 0 {
		return bf, nil, fmt.Errorf("%w: %s has no jobs", export.ErrInvalidJob, path)
	}

	jobs := make([]*export.Job, 0, len(bf.Jobs))
	for i, spec := range bf.Jobs {
		j, err := spec.Build()
		if err != nil {
			return bf, nil, fmt.Errorf("job %d (%s): %w", i+1, spec.Target, err)
		}
		jobs = append(jobs, j)
	}
	return bf, jobs, nil
}

func init() {
	batchCmd.Flags().IntP("concurrency", "c", 0, "The number of pages exported at the same time. Defaults to the batch file value, then to half the available CPUs (at most 8).")
	cobra.CheckErr(viper.BindPFlag("concurrency", batchCmd.Flags().Lookup("concurrency")))
}

var batchCmd = &cobra.Command{
	Use:   "batch FILE",
	Short: "Export every job listed in a YAML file",
	Long: `Export every job listed in a YAML file. Each job runs in its own browser
context; a failing job does not stop the others.`,
	Args: usageArgs(cobra.ExactArgs(1)),

	RunE: func(cmd *cobra.Command, args []string) error {
		bf, jobs, err := loadBatch(afero.NewOsFs(), args[0])
		if err != nil {
			return err
		}

		concurrency := viper.GetInt("concurrency")
		if concurrency <= 0 {
			concurrency = bf.Concurrency
		}
		concurrency = export.ResolveConcurrency(concurrency)

		exp, done, err := newExporter()
		if err != nil {
			return err
		}
		defer done()

		var errs error
		out := cmd.OutOrStdout()
		for _, o := range export.RunBatch(cmd.Context(), exp, jobs, concurrency) {
			if o.Err != nil {
				fmt.Fprintf(out, "FAIL %s: %v\n", o.Job.Target(), o.Err)
				errs = multierr.Append(errs, o.Err)
				continue
			}
			fmt.Fprintf(out, "ok   %s -> %s\n", o.Job.Target(), o.Result.Path)
		}
		return errs
	},
}
