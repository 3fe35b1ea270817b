package cmd

import (
	"fmt"
	"time"

	"github.com/SRMV-Team/liveclass-gateway/internal/config"
	"github.com/SRMV-Team/liveclass-gateway/internal/meetstore"
	"github.com/spf13/cobra"
)

var cleanupOlderThan time.Duration

var cleanupCmd = &cobra.Command{
	Use:   "cleanup [room]",
	Short: "Remove stored meeting records (one room, or everything older than --older-than)",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().DurationVar(&cleanupOlderThan, "older-than", 24*time.Hour,
		"purge records whose meeting started longer ago than this")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	store, err := meetstore.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("removed meeting record %s\n", args[0])
		return nil
	}
	n, err := store.PurgeOlderThan(cleanupOlderThan)
	if err != nil {
		return err
	}
	fmt.Printf("purged %d meeting records older than %s\n", n, cleanupOlderThan)
	return nil
}
