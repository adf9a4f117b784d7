// Package cli provides the cobra command tree for qcview.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/qcview/internal/config"
	"github.com/kingrea/qcview/internal/imageserver"
	"github.com/kingrea/qcview/internal/index"
	"github.com/kingrea/qcview/internal/logbook"
	"github.com/kingrea/qcview/internal/logging"
	"github.com/kingrea/qcview/internal/qcerr"
	"github.com/kingrea/qcview/internal/tui"
	"github.com/kingrea/qcview/internal/verdict"
)

// GlobalOpts holds flags shared by every command.
type GlobalOpts struct {
	Home          string
	Reviewer      string
	Dataset       string
	CanonicalStep string
	Save          bool
}

type serverOpts struct {
	host     string
	port     int
	noServer bool
}

// overrides reports only the server flags set on the command line.
func (o serverOpts) overrides(cmd *cobra.Command) imageserver.Overrides {
	var out imageserver.Overrides
	if cmd.Flags().Changed("host") {
		host := o.host
		out.Host = &host
	}
	if cmd.Flags().Changed("port") {
		port := o.port
		out.Port = &port
	}
	if o.noServer {
		disabled := false
		out.Enabled = &disabled
	}
	return out
}

// NewRootCmd creates the root command. Running it with a derivatives path
// opens the review screen.
func NewRootCmd() *cobra.Command {
	var global GlobalOpts
	var srv serverOpts

	rootCmd := &cobra.Command{
		Use:   "qcview <derivatives>",
		Short: "Review fMRIPrep QC figures and record verdicts",
		Long: `qcview - review fMRIPrep quality-control figures

Walks the sub-*/figures folders of an fMRIPrep derivatives tree, shows each
run's QC steps, and records a failed/maybe/passed verdict with a note per
subject and session. Figures are also served over HTTP so any image viewer
or browser can display them.`,
		Args:          requireDerivatives,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runViewer(cmd, global, srv, args[0])
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&global.Home, "home", "", "qcview home directory (default $"+config.HomeEnv+" or ~/"+config.HomeDirName+")")
	flags.StringVar(&global.Reviewer, "user", "", "reviewer name used to key the verdict file")
	flags.StringVar(&global.Dataset, "dataset", "", "dataset id used to key the verdict file")
	flags.StringVar(&global.CanonicalStep, "canonical-step", "", "functional step whose figures enumerate runs")
	flags.BoolVar(&global.Save, "save", false, "remember --user and --canonical-step in config.yaml")

	rootCmd.Flags().StringVar(&srv.host, "host", "", "image server host")
	rootCmd.Flags().IntVar(&srv.port, "port", 0, "image server port")
	rootCmd.Flags().BoolVar(&srv.noServer, "no-server", false, "do not start the image server")

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newSubjectsCmd(&global),
		newVerdictsCmd(&global),
	)
	return rootCmd
}

// Execute runs the root command with the given output writers.
func Execute(stdout, stderr io.Writer) error {
	rootCmd := NewRootCmd()
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd.Execute()
}

func requireDerivatives(cmd *cobra.Command, args []string) error {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return qcerr.Newf(qcerr.EUsage, "usage: %s", cmd.UseLine())
	}
	return nil
}

// session bundles what every command opens for one derivatives tree.
type session struct {
	cfg     *config.Config
	journal *logbook.Logbook
	index   *index.Index
	store   *verdict.Store
}

func openSession(global GlobalOpts, root string) (*session, error) {
	info, err := os.Stat(root)
	if err != nil || !info.IsDir() {
		return nil, qcerr.NewWithDetails(qcerr.ENotFound, "derivatives folder not found",
			map[string]string{"path": root})
	}
	home := strings.TrimSpace(global.Home)
	if home == "" {
		home = config.Home()
	}
	if err := config.InitHomeDir(home); err != nil {
		return nil, qcerr.Wrap(qcerr.EStoreInit, "prepare qcview home", err)
	}
	cfg, err := config.NewConfig(home, root)
	if err != nil {
		return nil, qcerr.Wrap(qcerr.EUsage, "load config", err)
	}
	cfg.SetReviewer(global.Reviewer)
	cfg.SetDataset(global.Dataset)
	if err := cfg.SetCanonicalStep(global.CanonicalStep); err != nil {
		return nil, qcerr.Wrap(qcerr.EUsage, "invalid --canonical-step", err)
	}
	if global.Save {
		if strings.TrimSpace(global.Reviewer) != "" {
			cfg.Project.Reviewer = cfg.Reviewer
		}
		if err := cfg.SaveProjectConfig(); err != nil {
			return nil, qcerr.Wrap(qcerr.EStoreInit, "save config", err)
		}
	}

	journal, err := logbook.New(cfg.JournalPath())
	if err != nil {
		return nil, qcerr.Wrap(qcerr.EStoreInit, "open journal", err)
	}
	ix := index.New(cfg.DerivativesRoot,
		index.WithCanonicalStep(cfg.CanonicalStep()),
		index.WithLogger(journal))
	store, err := verdict.Open(cfg.VerdictPath())
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, journal: journal, index: ix, store: store}, nil
}

func runViewer(cmd *cobra.Command, global GlobalOpts, srv serverOpts, root string) error {
	s, err := openSession(global, root)
	if err != nil {
		return err
	}

	settings, err := imageserver.ResolveSettings(s.cfg, srv.overrides(cmd))
	if err != nil {
		return qcerr.Wrap(qcerr.EUsage, "invalid server flags", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	appOpts := []tui.AppOption{
		tui.WithIndex(s.index),
		tui.WithVerdictStore(s.store),
		tui.WithLogbook(s.journal),
	}
	if settings.Enabled {
		logger, err := logging.New(s.cfg.LogsDir())
		if err != nil {
			return qcerr.Wrap(qcerr.EStoreInit, "open server log", err)
		}
		defer logger.Close()
		server := imageserver.NewServer(settings, s.index,
			imageserver.WithVerdicts(s.store),
			imageserver.WithLogger(logger))
		if err := server.Start(ctx); err != nil {
			s.journal.Warn("Image server unavailable: %v", err)
		} else {
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
				defer done()
				_ = server.Shutdown(shutdownCtx)
			}()
			s.journal.Info("Image server listening on %s", server.BaseURL())
			appOpts = append(appOpts, tui.WithServerURL(server.BaseURL()))
		}
	}

	app, err := tui.NewApp(s.cfg, appOpts...)
	if err != nil {
		return err
	}
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("run viewer: %w", err)
	}
	return nil
}
