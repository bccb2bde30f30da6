package cmd

import (
	"fmt"

	"github.com/AlfredBerg/rod-capture/internal/export"
	"github.com/AlfredBerg/rod-capture/internal/scrape"
	"github.com/spf13/cobra"
)

type searchFlags struct {
	job      scrape.SearchJob
	viewport viewportValue
}

var sf searchFlags

func init() {
	f := searchCmd.Flags()
	f.StringVarP(&sf.job.Target, "url", "u", "", "The url of the page holding the search box.")
	f.StringVarP(&sf.job.Input, "input", "i", "", "CSS selector of the search box.")
	f.StringVarP(&sf.job.Query, "query", "q", "", "The text to search for.")
	f.StringVarP(&sf.job.Results, "results", "r", scrape.DefaultResults, "CSS selector of the result links.")
	f.Var(&sf.viewport, "viewport", "Viewport width x height, optionally x device scale factor.")
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Type a query into a search box and print the result links",
	Example: `  rod-capture search -u https://developers.google.com/web/ \
    -i .devsite-search-field -q "Headless Chrome"`,
	Args: usageArgs(cobra.NoArgs),

	RunE: func(cmd *cobra.Command, args []string) error {
		job := sf.job
		job.Viewport = sf.viewport.Viewport()

		ledger, err := openLedger()
		if err != nil {
			return err
		}
		defer closeLedger(ledger)

		engine, err := newEngine()
		if err != nil {
			return err
		}
		defer closeEngine(engine)

		var rec export.Recorder
		if ledger != nil {
			rec = ledger
		}

		links, err := scrape.NewSearcher(engine, logger.Named("search"), rec).Run(cmd.Context(), job)
		if err != nil {
			return err
		}
		for _, l := range links {
			fmt.Fprintln(cmd.OutOrStdout(), l)
		}
		return nil
	},
}
