package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Crawls every configured source once",
		Long: `Visits each source in the order it is configured, follows its
next-page links up to the page budget and stores every new article. An
interrupt stops the crawl cleanly and still prints the session summary.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	logger := appInstance.Logger()

	logger.Info("Crawler starting")
	session, err := appInstance.Crawl(cmd.Context())
	if err != nil {
		return fmt.Errorf("run crawler: %w", err)
	}
	logger.Info("Crawl command finished",
		zap.String("run_id", session.RunID),
		zap.Int("downloaded", session.Downloaded),
	)
	return nil
}
