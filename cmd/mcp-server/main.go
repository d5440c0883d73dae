package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mlog-app/mlog-store/internal/backend"
	"github.com/mlog-app/mlog-store/internal/config"
	"github.com/mlog-app/mlog-store/internal/importer"
	"github.com/mlog-app/mlog-store/internal/logger"
	"github.com/mlog-app/mlog-store/internal/tools"
)

const daemonBinary = "mlog-kv-server"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()

	if err := logger.InitFromEnv(filepath.Join(config.DataDir(), "mcp-server.log")); err != nil {
		panic(err)
	}
	defer logger.Close()

	logger.Infof("Starting mlog MCP server")

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Errorf("Failed to load config: %v", err)
		panic(err)
	}
	if err := cfg.Log.Apply(); err != nil {
		logger.Warnf("Ignoring log config: %v", err)
	}

	ctx := context.Background()
	if cfg.Store.Backend == config.BackendRemote {
		ensureDaemon(cfg.Store.Socket, *configPath)
	}
	store, err := backend.Open(ctx, cfg.Store, nil)
	if err != nil {
		logger.Errorf("Failed to open record store: %v", err)
		panic(err)
	}
	defer store.Close()
	logger.Infof("Opened %s record store", cfg.Store.Backend)

	im := importer.New(store, importer.Options{
		Parallelism: cfg.Importer.Parallelism,
		Timeout:     cfg.Importer.Timeout,
		UserAgent:   cfg.Importer.UserAgent,
	})

	s := server.NewMCPServer(
		"mlog records",
		"0.1.0",
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)
	logger.Infof("Created MCP server instance")

	s.AddTool(mcp.NewTool("record-get",
		mcp.WithDescription(multiline(
			"Reads one record from the mlog record store",
			"\nUsage notes:",
			"- Keys are colon-separated, e.g. musical:<id>, actor:<id>, review:<musicalId>:<id>",
			"- Returns the stored JSON document pretty-printed, or a note when the key is absent",
		)),
		mcp.WithString("key", mcp.Required(), mcp.Description("The record key")),
	), tools.RecordGetHandler(store))

	s.AddTool(mcp.NewTool("record-list",
		mcp.WithDescription(multiline(
			"Lists every record whose key starts with a prefix",
			"\nUsage notes:",
			"- Use musical: for all musicals or performance:<musicalId>: for one musical's cast",
			"- An empty prefix lists the whole store",
			"- Output is capped by limit (default 50); the total count is always reported",
		)),
		mcp.WithString("prefix", mcp.Description("Key prefix to match")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of records to show")),
	), tools.RecordListHandler(store))

	s.AddTool(mcp.NewTool("record-set",
		mcp.WithDescription(multiline(
			"Stores a JSON document under a key, replacing any existing record",
			"\nUsage notes:",
			"- The value must be valid JSON",
			"- Keys must be non-empty",
		)),
		mcp.WithString("key", mcp.Required(), mcp.Description("The record key")),
		mcp.WithString("value", mcp.Required(), mcp.Description("The JSON document to store")),
	), tools.RecordSetHandler(store))

	s.AddTool(mcp.NewTool("record-delete",
		mcp.WithDescription(multiline(
			"Deletes one record. Deleting an absent key succeeds.",
		)),
		mcp.WithString("key", mcp.Required(), mcp.Description("The record key")),
	), tools.RecordDeleteHandler(store))

	s.AddTool(mcp.NewTool("musical-import",
		mcp.WithDescription(multiline(
			"Imports musicals from ticketing or theater listing pages",
			"\nFunctionality:",
			"- Fetches each page and reads schema.org Event/TheaterEvent microdata",
			"- Stores one musical:<id> record per event found (title, poster, dates, discount, description)",
			"- Re-importing the same page replaces the earlier records instead of duplicating them",
			"\nUsage notes:",
			"- Only http and https URLs are accepted",
			"- Pages that fail are listed with their error; the rest are still imported",
		)),
		mcp.WithString("urls", mcp.Required(), mcp.Description("One or more page URLs, separated by commas or spaces")),
	), tools.MusicalImportHandler(im))
	logger.Infof("Registered record and import tools")

	logger.Infof("Starting MCP server on stdio")
	if err := server.ServeStdio(s); err != nil {
		logger.Errorf("server error: %v", err)
	}
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

// ensureDaemon makes sure kv-server answers on sock, starting it if needed.
func ensureDaemon(sock, configPath string) {
	logger.Infof("Attempting to connect to kv daemon at %s", sock)
	err := probe(sock)
	if err == nil {
		logger.Infof("Successfully connected to kv daemon")
		return
	}
	logger.Warnf("Failed to connect to kv daemon: %v, attempting to start daemon", err)
	if startErr := startDaemon(configPath); startErr != nil {
		logger.Errorf("Failed to start kv daemon: %v", startErr)
	} else {
		logger.Infof("kv daemon started")
	}
	// wait for socket to appear
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if err = probe(sock); err == nil {
			logger.Infof("Successfully connected to kv daemon")
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	logger.Errorf("Failed to connect to kv daemon after startup attempt: %v", err)
	panic(err)
}

func probe(sock string) error {
	conn, err := net.DialTimeout("unix", sock, 200*time.Millisecond)
	if err != nil {
		return err
	}
	return conn.Close()
}

// startDaemon launches kv-server in the background with the same config file.
// The daemon serves the bolt medium since the file names the remote one.
func startDaemon(configPath string) error {
	path, err := daemonPath()
	if err != nil {
		return err
	}
	var args []string
	if configPath != "" {
		args = append(args, "-config", configPath)
	}
	cmd := exec.Command(path, args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = daemonEnv(os.Environ())
	return cmd.Start()
}

func daemonEnv(env []string) []string {
	out := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if strings.HasPrefix(kv, config.EnvBackend+"=") {
			continue
		}
		out = append(out, kv)
	}
	return append(out, config.EnvBackend+"="+config.BackendBolt)
}

func daemonPath() (string, error) {
	// 1) Binary next to this server executable
	if exePath, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exePath), daemonBinary)
		if _, statErr := os.Stat(sibling); statErr == nil {
			return sibling, nil
		}
	}
	// 2) PATH binary
	if path, err := exec.LookPath(daemonBinary); err == nil {
		return path, nil
	}
	// 3) Current working directory (best-effort)
	local := "./" + daemonBinary
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}
	return "", exec.ErrNotFound
}
