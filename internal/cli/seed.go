package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"politikcred/internal/politician/seed"
)

var (
	seedFeeds    []string
	seedFeedURLs []string
	seedFollow   []string
)

var seedCmd = &cobra.Command{
	Use:   "seed [file.yaml]",
	Short: "Load politicians from a YAML file or official open-data feeds",
	Long: `Seed inserts politicians together with their promises. Entries come from
a YAML file, from the official rosters (deputes, senateurs, maires), or both.
Entries whose first and last name already exist are skipped, so seeding the
same input twice is harmless.

Examples:
  politikcred seed politicians.yaml
  politikcred seed --feed deputes --feed senateurs --follow an
  politikcred seed --feed deputes --feed-url https://mirror.example/amo30.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringSliceVar(&seedFeeds, "feed", nil, "official roster to import: deputes, senateurs or maires (repeatable)")
	seedCmd.Flags().StringSliceVar(&seedFeedURLs, "feed-url", nil, "override the download URLs of a single --feed, tried in order")
	seedCmd.Flags().StringSliceVar(&seedFollow, "follow", nil, "action source IDs followed by politicians imported from feeds")
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && len(seedFeeds) == 0 {
		return errors.New("seed needs a file, a --feed, or both")
	}
	if len(seedFeedURLs) > 0 && len(seedFeeds) != 1 {
		return errors.New("--feed-url applies to exactly one --feed")
	}

	doc := &seed.File{}
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open seed file: %w", err)
		}
		fromFile, err := seed.Decode(f)
		_ = f.Close()
		if err != nil {
			return err
		}
		doc.Politicians = append(doc.Politicians, fromFile.Politicians...)
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(seedFeeds) > 0 {
		fetcher := seed.NewFetcher(seed.WithFetchLogger(a.Logger))
		for _, name := range seedFeeds {
			feed, err := seed.ParseFeed(name)
			if err != nil {
				return err
			}
			fromFeed, err := fetcher.Fetch(ctx, feed, seedFeedURLs...)
			if err != nil {
				return err
			}
			for _, e := range fromFeed.Politicians {
				e.Sources = append(e.Sources, seedFollow...)
				doc.Politicians = append(doc.Politicians, e)
			}
		}
	}

	res, err := a.Seeder.Seed(ctx, doc)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}
