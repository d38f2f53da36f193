// Command vault-rename is the CLI front end for the rename engine
// (spec §6.1): a `rename` subcommand driving RenameCoordinator and a
// `recover` subcommand driving BootRecovery, both grounded in the
// teacher's cobra root command / flag wiring (cmd/root.go, cmd/rename.go).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/atomicobject/vault-rename/pkg/notecache"
	"github.com/atomicobject/vault-rename/pkg/rename"
	"github.com/atomicobject/vault-rename/pkg/telemetry"
)

var (
	vaultPath        string
	walDir           string
	caseSensitive    bool
	quiescenceWindow time.Duration
	updateLinks      bool
)

var rootCmd = &cobra.Command{
	Use:   "vault-rename",
	Short: "Atomically rename Markdown notes and rewrite referencing wikilinks",
}

var renameCmd = &cobra.Command{
	Use:   "rename <old-path> <new-path>",
	Short: "Rename a note and rewrite every wikilink referencing it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cache, err := notecache.New(vaultPath, notecache.Options{})
		if err != nil {
			return fmt.Errorf("initialize note cache: %w", err)
		}
		defer cache.Close()

		coord, err := rename.New(rename.Config{
			VaultPath:        vaultPath,
			WALDir:           walDir,
			QuiescenceWindow: quiescenceWindow,
			CaseSensitive:    caseSensitive,
		}, cache, telemetry.NewLogSink(nil))
		if err != nil {
			return fmt.Errorf("initialize coordinator: %w", err)
		}

		input := rename.NewInput(args[0], args[1]).WithUpdateLinks(updateLinks)
		out := coord.RenameNote(cmd.Context(), input)
		if !out.Success {
			return fmt.Errorf("rename failed [%s]: %s", out.ErrorCode, out.Error)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s -> %s; links updated: %d; correlation_id: %s\n",
			out.OldPath, out.NewPath, out.UpdatedCount, out.CorrelationID)
		return nil
	},
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Roll back any orphaned transactions left by a crash",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		coord, err := rename.New(rename.Config{
			VaultPath:        vaultPath,
			WALDir:           walDir,
			QuiescenceWindow: quiescenceWindow,
			CaseSensitive:    caseSensitive,
		}, nil, telemetry.NewLogSink(nil))
		if err != nil {
			return fmt.Errorf("initialize coordinator: %w", err)
		}

		report := coord.Recover()
		fmt.Fprintf(cmd.OutOrStdout(), "recovered=%d skipped=%d failed=%d\n",
			report.Recovered, report.Skipped, report.Failed)
		for _, w := range report.Warnings {
			fmt.Fprintln(cmd.OutOrStdout(), w)
		}
		if report.Failed > 0 {
			return fmt.Errorf("%d transaction(s) could not be recovered; wal retained for retry", report.Failed)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&vaultPath, "vault", "v", "", "path to the vault root (required)")
	rootCmd.PersistentFlags().StringVar(&walDir, "wal-dir", "", "write-ahead log directory (default: <vault>/.vault-rename-wal)")
	rootCmd.PersistentFlags().BoolVar(&caseSensitive, "case-sensitive", false, "match wikilink targets case-sensitively")
	rootCmd.PersistentFlags().DurationVar(&quiescenceWindow, "quiescence-window", 60*time.Second, "minimum WAL age before boot recovery will roll it back")
	rootCmd.MarkPersistentFlagRequired("vault")

	renameCmd.Flags().BoolVar(&updateLinks, "update-links", true, "rewrite wikilinks referencing the renamed note")

	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(recoverCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.SetOutput(os.Stderr)
		log.Fatal(err)
	}
}
