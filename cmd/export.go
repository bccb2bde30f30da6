package cmd

import (
	"fmt"
	"time"

	"github.com/AlfredBerg/rod-capture/internal/export"
	"github.com/spf13/cobra"
)

type exportFlags struct {
	spec     export.JobSpec
	delay    time.Duration
	viewport viewportValue
	margin   marginValue
}

var ef exportFlags

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&ef.spec.Target, "url", "u", "", "The url of the page to export.")
	f.StringVarP(&ef.spec.Output, "out", "o", "", "The file to write. Its directory must exist.")
	f.StringVarP(&ef.spec.Format, "format", "f", "pdf", "Output format: pdf, png-full or png-viewport.")
	f.StringSliceVarP(&ef.spec.Wait, "wait", "w", nil, "Readiness steps in order: networkidle0, networkidle2, scroll, selector[:css], delay[:duration]. "+
		"Defaults to networkidle0. --selector and --delay run after the list unless it places them with a bare selector or delay entry. This argument can be specified multiple times")
	f.StringVarP(&ef.spec.Selector, "selector", "s", "", "Wait for this CSS selector to be present before exporting.")
	f.DurationVar(&ef.delay, "delay", 0, "Wait this long before exporting.")
	f.Var(&ef.viewport, "viewport", "Viewport width x height, optionally x device scale factor, e.g. 1680x1080x2.")
	f.StringVar(&ef.spec.Device, "device", "", "Emulate a device, e.g. \"iPhone 11 Pro Max\". Mutually exclusive with --viewport.")
	f.StringVar(&ef.spec.Paper, "paper", "", "PDF paper size: Letter, Legal, Tabloid, Ledger or A0 to A6. Defaults to Letter.")
	f.Var(&ef.margin, "margin", "PDF margins, 1, 2 or 4 lengths in px, in, cm or mm, e.g. 20px.")
	f.BoolVar(&ef.spec.Background, "background", false, "Print background graphics in the PDF.")
	f.BoolVar(&ef.spec.Landscape, "landscape", false, "Use landscape orientation for the PDF.")
	f.Float64Var(&ef.spec.Scale, "scale", 0, "PDF rendering scale between 0.1 and 2. Defaults to 1.")
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export one page to a PDF or PNG file",
	Example: `  rod-capture export -u https://www.trendmicro.com/ -o trendmicro.pdf \
    --viewport 1680x1080x2 --selector main.container-fluid --delay 1s \
    --paper A2 --margin 20px --background`,
	Args: usageArgs(cobra.NoArgs),

	RunE: func(cmd *cobra.Command, args []string) error {
		spec := ef.spec
		if ef.delay > 0 {
			spec.Delay = ef.delay.String()
		}
		if v := ef.viewport.Viewport(); v != nil {
			spec.Viewport = v.String()
		}
		spec.Margin = ef.margin.String()

		job, err := spec.Build()
		if err != nil {
			return err
		}

		exp, done, err := newExporter()
		if err != nil {
			return err
		}
		defer done()

		res, err := exp.Run(cmd.Context(), job)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.Path)
		return nil
	},
}

// newExporter starts the engine and opens the run history. done releases both.
func newExporter() (*export.Exporter, func(), error) {
	ledger, err := openLedger()
	if err != nil {
		return nil, nil, err
	}
	engine, err := newEngine()
	if err != nil {
		closeLedger(ledger)
		return nil, nil, err
	}

	opts := []export.Option{export.WithLogger(logger.Named("export"))}
	if ledger != nil {
		opts = append(opts, export.WithRecorder(ledger))
	}
	done := func() {
		closeEngine(engine)
		closeLedger(ledger)
	}
	return export.New(engine, opts...), done, nil
}
