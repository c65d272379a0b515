package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/linksource"
	"github.com/JakeFAU/sitecrawler/internal/orchestrator"
)

type crawlOutput struct {
	Records []crawler.SiteRecord `json:"records"`
	Summary crawler.CrawlSummary `json:"summary"`
	Notices []crawler.Notice     `json:"notices,omitempty"`
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one batch from a
// links file and prints the records and summary as JSON.
func newCrawlCmd() *cobra.Command {
	var (
		linksFile string
		owner     crawler.Owner
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls every URL in a links file",
		Long: `Reads a line-delimited links file, fetches every distinct URL with
bounded concurrency, and upserts one record per fetched page. Sites that
could not be fetched are tallied in the summary and reported in a single
warning.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if strings.TrimSpace(owner.Username) == "" {
				return errors.New("--owner is required")
			}
			if linksFile == "" {
				linksFile = appInstance.Config().Crawler.LinksFile
			}
			targets, err := linksource.ReadFile(linksFile)
			if err != nil {
				return err
			}

			notices := &orchestrator.CollectingNotifier{}
			records, summary, err := appInstance.Orchestrator().RunCrawl(
				cmd.Context(), owner, targets, orchestrator.NotifyTo(notices))
			if err != nil {
				return fmt.Errorf("crawl: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(crawlOutput{Records: records, Summary: summary, Notices: notices.Notices()}); err != nil {
				return fmt.Errorf("write crawl output: %w", err)
			}
			appInstance.Logger().Info("crawl command finished", zap.String("links_file", linksFile))
			return nil
		},
	}
	cmd.Flags().StringVar(&linksFile, "links", "", "links file to crawl (default crawler.links_file)")
	cmd.Flags().StringVar(&owner.Username, "owner", "", "username the records are attributed to")
	cmd.Flags().Int64Var(&owner.ID, "owner-id", 0, "numeric id of the owner")
	return cmd
}
