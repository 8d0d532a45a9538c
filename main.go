package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/urfave/cli/v2"

	"github.com/MLZ101/RAG-Document-Chat/ingest"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:  "rag",
		Usage: "Ingest PDF and text documents and search them by similarity",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Configuration file",
				Value:   "cfg/config.yaml",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the MCP server and the inbox watcher",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "reset",
						Usage: "Reinitialize the database from scratch",
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Ingest files and wait for the result",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
			},
			{
				Name:      "query",
				Usage:     "Print the chunks most similar to TEXT",
				ArgsUsage: "TEXT",
				Action:    queryCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "top-k",
						Aliases: []string{"k"},
						Usage:   "Number of chunks to return (config results when 0)",
					},
					&cli.StringFlag{
						Name:    "document",
						Aliases: []string{"d"},
						Usage:   "Restrict the search to one document id",
					},
				},
			},
			{
				Name:   "documents",
				Usage:  "List ingested documents",
				Action: documentsCommand,
			},
			{
				Name:      "delete",
				Usage:     "Delete a document and its chunks",
				ArgsUsage: "ID",
				Action:    deleteCommand,
			},
		},
	}
}

// openApp reads the configuration, sets up logging and builds the App.
// The returned function releases everything.
func openApp(c *cli.Context, reset bool) (*App, func(), error) {
	cfg, err := readConfig(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	logger, logFile, err := setupLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	app, err := NewApp(c.Context, cfg, logger, reset)
	if err != nil {
		_ = logFile.Close()
		return nil, nil, err
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := app.Close(ctx); err != nil {
			logger.Error("failed to close app", "error", err)
		}
		_ = logFile.Close()
	}

	return app, release, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func setupLogger(cfg *Config) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: cfg.logLevel()}

	if cfg.LogFile == "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nopCloser{}, nil
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return slog.New(slog.NewJSONHandler(logFile, opts)), logFile, nil
}

func serveCommand(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	c.Context = ctx

	app, release, err := openApp(c, c.Bool("reset"))
	if err != nil {
		return err
	}
	defer release()

	if app.cfg.InboxDir != "" {
		if err := os.MkdirAll(app.cfg.InboxDir, 0o755); err != nil {
			return fmt.Errorf("failed to create inbox: %w", err)
		}

		inbox := NewInbox(app.cfg.InboxDir, app.cfg.UploadDir,
			time.Duration(app.cfg.MergeEventsMs)*time.Millisecond, app.queue, app.log)
		if err := inbox.Watch(ctx); err != nil {
			return err
		}
		if err := inbox.Sync(ctx); err != nil {
			return err
		}
	}

	srv := NewRagServer(app, app.log)
	sse := server.NewSSEServer(srv, server.WithBaseURL(fmt.Sprintf("http://%s", app.cfg.ServerAddr)))

	errCh := make(chan error, 1)
	go func() {
		app.log.Info("server started", "addr", app.cfg.ServerAddr)
		errCh <- sse.Start(app.cfg.ServerAddr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	app.log.Info("shutting down")
	return sse.Shutdown(shutdownCtx)
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file is required")
	}

	app, release, err := openApp(c, false)
	if err != nil {
		return err
	}
	defer release()

	var ids []string
	for _, path := range c.Args().Slice() {
		id, err := app.SubmitFile(c.Context, path)
		if err != nil {
			fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", path, err)
			continue
		}
		ids = append(ids, id)
	}

	failed := len(c.Args().Slice()) - len(ids)
	enc := json.NewEncoder(c.App.Writer)
	for _, id := range ids {
		st, err := app.Wait(c.Context, id)
		if err != nil {
			return err
		}
		if st.State != ingest.Succeeded {
			failed++
		}
		if err := enc.Encode(st); err != nil {
			return err
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, c.NArg())
	}
	return nil
}

func queryCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one query text is required")
	}

	app, release, err := openApp(c, false)
	if err != nil {
		return err
	}
	defer release()

	res, err := app.Query(c.Context, c.Args().First(), c.Int("top-k"), c.String("document"))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(c.App.Writer)
	for _, r := range res {
		if err := enc.Encode(searchHit{
			Score:      r.Score,
			DocumentID: r.Metadata.DocumentID,
			Filename:   r.Metadata.Filename,
			ChunkIndex: r.Metadata.ChunkIndex,
			Text:       r.Text,
		}); err != nil {
			return err
		}
	}

	return nil
}

func documentsCommand(c *cli.Context) error {
	app, release, err := openApp(c, false)
	if err != nil {
		return err
	}
	defer release()

	docs, err := app.ListDocuments(c.Context)
	if err != nil {
		return err
	}

	for _, d := range docs {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%d\n", d.ID, d.Filename, d.Chunks)
	}

	return nil
}

func deleteCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one document id is required")
	}

	app, release, err := openApp(c, false)
	if err != nil {
		return err
	}
	defer release()

	return app.Delete(c.Context, c.Args().First())
}
