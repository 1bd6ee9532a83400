package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/garlicbreadcleric/increadable/internal/bookfile"
	"github.com/garlicbreadcleric/increadable/internal/config"
	"github.com/garlicbreadcleric/increadable/internal/domain"
	"github.com/garlicbreadcleric/increadable/internal/gateway"
	"github.com/garlicbreadcleric/increadable/internal/reader"
	"github.com/garlicbreadcleric/increadable/internal/render"
	"github.com/garlicbreadcleric/increadable/internal/repositories"
	"github.com/garlicbreadcleric/increadable/internal/usecases"
	"github.com/garlicbreadcleric/increadable/pkg/logger"
)

// env is what every command works against
type env struct {
	store interface {
		domain.DocumentStore
		Close() error
	}
	docs *usecases.DocumentUsecase
	log  *zap.Logger
}

func (e *env) Close() error {
	_ = e.log.Sync()
	return e.store.Close()
}

type options struct {
	configPath string
	dbPath     string
	verbose    bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:          "readerctl",
		Short:        "Inspect and manage the local document library",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", os.Getenv("APP_CONFIG_PATH"), "config file")
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "sqlite database path (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log to stderr")

	rootCmd.AddCommand(listCmd(opts))
	rootCmd.AddCommand(fetchCmd(opts))
	rootCmd.AddCommand(uploadCmd(opts))
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(tocCmd(opts))
	rootCmd.AddCommand(bookmarksCmd(opts))
	rootCmd.AddCommand(rmCmd(opts))

	return rootCmd
}

func openEnv(opts *options) (*env, error) {
	if err := config.Reload(opts.configPath); err != nil {
		return nil, err
	}
	cfg := config.Get()

	log := zap.NewNop()
	if opts.verbose {
		l, err := logger.Build(logger.Options{Level: "debug", Development: true, Encoding: "console"})
		if err != nil {
			return nil, err
		}
		log = l
	}

	var store interface {
		domain.DocumentStore
		Close() error
	}
	switch {
	case opts.dbPath != "" || cfg.Store.Driver == config.DriverSQLite:
		path := opts.dbPath
		if path == "" {
			path = cfg.Store.SQLite.Path
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		s, err := repositories.NewSQLiteStore(path, log)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		s, err := repositories.NewReindexerStore(cfg.Store.Reindexer.DSN, cfg.Store.Reindexer.Namespace, 1, log)
		if err != nil {
			return nil, err
		}
		store = s
	}

	client, err := gateway.NewClient(gateway.Options{
		BaseURL:         cfg.Gateway.BaseURL,
		Timeout:         cfg.Gateway.Timeout,
		MaxPreviewBytes: cfg.Gateway.MaxPreviewBytes,
	}, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &env{
		store: store,
		docs:  usecases.NewDocumentUsecase(store, client, nil, log, cfg.Concurrency.GatewayMaxInflight),
		log:   log,
	}, nil
}

// openDocument loads a document and renders its preview
func openDocument(ctx context.Context, e *env, id string) (*domain.Document, *domain.RenderedDocument, error) {
	doc, err := e.docs.FindByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rendered, err := render.NewRenderer().Render(doc.PreviewMarkup)
	if err != nil {
		return nil, nil, err
	}
	return doc, rendered, nil
}

func listCmd(opts *options) *cobra.Command {
	var order string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cached documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			docs, err := e.docs.FindAll(cmd.Context(), usecases.ParseListOrder(order))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(docs) == 0 {
				fmt.Fprintln(out, "No documents yet. Use 'readerctl fetch' or 'readerctl upload'.")
				return nil
			}
			for _, d := range docs {
				fmt.Fprintf(out, "%-24s %-6s %3d  %s\n", d.ID, d.Type, len(d.Bookmarks), truncate(d.Title(), 60))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&order, "order", "id", "sort order: id or title")
	return cmd
}

func fetchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [id]",
		Short: "Fetch a document from the remote service into the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			doc, err := e.docs.FindByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  (%d bytes of preview)\n", doc.ID, doc.Title(), len(doc.PreviewMarkup))
			return nil
		},
	}
}

func uploadCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "upload [file]",
		Short: "Upload a file to the remote service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if bookfile.IsEPUB(args[0]) {
				if _, err := bookfile.Inspect(args[0]); err != nil {
					return err
				}
			}

			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			doc, err := e.docs.Upload(cmd.Context(), filepath.Base(args[0]), f)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded: %s (%s)\nRead at:  %s\n",
				doc.ID, doc.Type, usecases.ReadURL(doc, config.Get().Gateway.AnnotationProxy))
			return nil
		},
	}
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [file.epub]",
		Short: "Show the metadata of a local EPUB file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := bookfile.Inspect(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Title:    %s\n", info.Title)
			if info.Creator != "" {
				fmt.Fprintf(out, "Author:   %s\n", info.Creator)
			}
			if info.Language != "" {
				fmt.Fprintf(out, "Language: %s\n", info.Language)
			}
			fmt.Fprintf(out, "Chapters: %d\n", info.Chapters)
			return nil
		},
	}
}

func tocCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "toc [id]",
		Short: "Print the table of contents, marking the current section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			doc, rendered, err := openDocument(cmd.Context(), e, args[0])
			if err != nil {
				return err
			}

			position := 0
			if doc.CurrentElementIndex != nil {
				position = *doc.CurrentElementIndex
			}
			toc := reader.BuildTOC(rendered.Headings, position)
			printTOC(cmd.OutOrStdout(), toc)
			return nil
		},
	}
}

func printTOC(out io.Writer, toc []*domain.TocNode) {
	if len(toc) == 0 {
		fmt.Fprintln(out, "(no headings)")
		return
	}
	reader.Walk(toc, func(node *domain.TocNode, depth int) bool {
		marker := " "
		if node.Active {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s%s\n", marker, strings.Repeat("  ", depth), node.Name)
		return true
	})
}

func bookmarksCmd(opts *options) *cobra.Command {
	var order string

	cmd := &cobra.Command{
		Use:   "bookmarks [id]",
		Short: "List bookmarks of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			doc, rendered, err := openDocument(cmd.Context(), e, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			marks := reader.ResolveBookmarks(reader.SortBookmarks(doc.Bookmarks, reader.ParseSortOrder(order)), rendered.Blocks)
			if len(marks) == 0 {
				fmt.Fprintln(out, "No bookmarks.")
				return nil
			}
			for _, m := range marks {
				fmt.Fprintf(out, "%s  #%-4d %s  %s\n",
					m.ID, m.ElementIndex, m.CreatedAt.Format("2006-01-02 15:04"), truncate(m.Content, 60))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&order, "order", "location", "sort order: location, newest or oldest")
	return cmd
}

func rmCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "rm [id]",
		Short: "Remove a document and its bookmarks from the local store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(opts)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.docs.Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", args[0])
			return nil
		},
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-3]) + "..."
}
