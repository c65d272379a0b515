package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/sitecrawler/internal/linksource"
)

// newLinksCmd creates the 'links' subcommand, which scrapes a seed page and
// appends the discovered links to a links file.
func newLinksCmd() *cobra.Command {
	var seed, selector, out string
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Collects links from a seed page into a links file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config().Crawler
			if seed == "" {
				seed = cfg.SeedURL
			}
			if seed == "" {
				return errors.New("--seed or crawler.seed_url is required")
			}
			if selector == "" {
				selector = cfg.SeedSelector
			}
			if out == "" {
				out = cfg.LinksFile
			}

			links, err := appInstance.Scraper().Scrape(cmd.Context(), seed, selector)
			if err != nil {
				return err
			}
			if err := linksource.AppendLinks(out, links); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "appended %d links to %s\n", len(links), out)
			return err
		},
	}
	cmd.Flags().StringVar(&seed, "seed", "", "page to collect links from (default crawler.seed_url)")
	cmd.Flags().StringVar(&selector, "selector", "", "CSS selector for link elements (default crawler.seed_selector)")
	cmd.Flags().StringVar(&out, "out", "", "links file to append to (default crawler.links_file)")
	return cmd
}
