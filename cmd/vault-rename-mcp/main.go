// Command vault-rename-mcp runs a Model Context Protocol server exposing
// rename_note as a single stdio tool (spec §6.2), grounded in the
// teacher's cmd/mcp.go stdio bootstrap (server.NewMCPServer,
// server.ServeStdio) with the embeddings/analysis machinery stripped
// out in favor of the one tool this engine exposes.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"github.com/atomicobject/vault-rename/pkg/mcpvault"
	"github.com/atomicobject/vault-rename/pkg/notecache"
	"github.com/atomicobject/vault-rename/pkg/rename"
	"github.com/atomicobject/vault-rename/pkg/telemetry"
)

func main() {
	vaultPath := flag.String("vault", "", "path to the vault root (required)")
	walDir := flag.String("wal-dir", "", "write-ahead log directory (default: <vault>/.vault-rename-wal)")
	caseSensitive := flag.Bool("case-sensitive", false, "match wikilink targets case-sensitively")
	quiescenceWindow := flag.Duration("quiescence-window", 60*time.Second, "minimum WAL age before boot recovery will roll it back")
	flag.Parse()

	if *vaultPath == "" {
		log.Fatal("vault-rename-mcp: --vault is required")
	}

	cache, err := notecache.New(*vaultPath, notecache.Options{})
	if err != nil {
		log.Fatalf("initialize note cache: %v", err)
	}
	defer cache.Close()

	coord, err := rename.New(rename.Config{
		VaultPath:        *vaultPath,
		WALDir:           *walDir,
		QuiescenceWindow: *quiescenceWindow,
		CaseSensitive:    *caseSensitive,
	}, cache, telemetry.NewLogSink(nil))
	if err != nil {
		log.Fatalf("initialize coordinator: %v", err)
	}

	if report := coord.Recover(); report.Recovered > 0 || report.Failed > 0 {
		log.Printf("boot recovery: recovered=%d skipped=%d failed=%d", report.Recovered, report.Skipped, report.Failed)
		for _, w := range report.Warnings {
			log.Print(w)
		}
	}

	s := server.NewMCPServer(
		"vault-rename",
		"v0.1.0",
		server.WithToolCapabilities(false),
		server.WithInstructions("Exposes rename_note: atomically rename a Markdown note and rewrite every wikilink referencing it across the vault."),
	)

	mcpvault.Register(s, coord)

	if err := server.ServeStdio(s); err != nil {
		log.Fatalf("MCP server error: %v", err)
	}
}
