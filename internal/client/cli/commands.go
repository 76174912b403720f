package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	clientapi "github.com/iudanet/pymirror/internal/client/api"
	"github.com/iudanet/pymirror/internal/client/iocli"
	"github.com/iudanet/pymirror/internal/client/storage"
	"github.com/iudanet/pymirror/internal/client/storage/boltdb"
)

const defaultServerURL = "http://localhost:8080"

// rootState - глобальные флаги и открытая на время команды база
type rootState struct {
	io     iocli.IO
	cli    *Cli
	store  *boltdb.Storage
	server string
	db     string
	output string
}

func (s *rootState) open(cmd *cobra.Command) error {
	switch s.output {
	case OutputAuto, OutputText, OutputJSON:
	default:
		return fmt.Errorf("invalid --output %q (must be auto, text or json)", s.output)
	}

	store, err := boltdb.New(cmd.Context(), s.db)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	serverURL, err := resolveServerURL(cmd, store, s.server)
	if err != nil {
		_ = store.Close()
		return err
	}

	s.store = store
	s.cli = New(s.io, clientapi.NewClient(serverURL), store, serverURL, s.output)
	return nil
}

func (s *rootState) close() error {
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

// run оборачивает подкоманду: база закрывается и при ошибке команды
func (s *rootState) run(fn func(ctx context.Context, c *Cli, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			err = errors.Join(err, s.close())
		}()
		return fn(cmd.Context(), s.cli, args)
	}
}

// NewRootCmd создает корневую команду клиента.
// Локальная база открывается перед каждой подкомандой и закрывается после нее.
func NewRootCmd(io iocli.IO, version string) *cobra.Command {
	state := &rootState{io: io}

	root := &cobra.Command{
		Use:   "pymirror",
		Short: "Client for the pymirror package mirror",
		Long: `pymirror talks to a pymirror server: it starts repository syncs against
remote package indexes, uploads distributions into coalesced upload
sessions and reports task state.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return state.open(cmd)
		},
	}

	root.PersistentFlags().StringVar(&state.server, "server", defaultServerURL, "Server URL")
	root.PersistentFlags().StringVar(&state.db, "db", "pymirror-client.db", "Path to local database")
	root.PersistentFlags().StringVarP(&state.output, "output", "o", OutputAuto, "Output format: auto, text or json")

	root.AddCommand(
		newLoginCmd(state),
		newLogoutCmd(state),
		newStatusCmd(state),
		newSyncCmd(state),
		newUploadCmd(state),
		newUploadGroupCmd(state),
		newTaskCmd(state),
	)

	return root
}

// resolveServerURL - явный --server, иначе сервер последнего логина
func resolveServerURL(cmd *cobra.Command, store storage.AuthStorage, flag string) (string, error) {
	if cmd.Flags().Changed("server") {
		return flag, nil
	}

	auth, err := store.CurrentAuth(cmd.Context())
	switch {
	case err == nil && auth.ServerURL != "":
		return auth.ServerURL, nil
	case err == nil, errors.Is(err, storage.ErrAuthNotFound):
		return flag, nil
	default:
		return "", fmt.Errorf("failed to get auth data: %w", err)
	}
}

func newLoginCmd(state *rootState) *cobra.Command {
	var opts LoginOptions
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save an access token issued by the server administrator",
		Long: `Save an access token for the server given by --server.

Token sources, highest priority first:
  1. PYMIRROR_TOKEN environment variable
  2. --token-file
  3. Interactive prompt`,
		Args: cobra.NoArgs,
		RunE: state.run(func(ctx context.Context, c *Cli, _ []string) error {
			return c.runLogin(ctx, opts)
		}),
	}
	cmd.Flags().StringVar(&opts.TokenFile, "token-file", "", "Read the token from file")
	return cmd
}

func newLogoutCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Delete the saved access token",
		Args:  cobra.NoArgs,
		RunE: state.run(func(ctx context.Context, c *Cli, _ []string) error {
			return c.runLogout(ctx)
		}),
	}
}

func newStatusCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server health, login state and recent tasks",
		Args:  cobra.NoArgs,
		RunE: state.run(func(ctx context.Context, c *Cli, _ []string) error {
			return c.runStatus(ctx)
		}),
	}
}

func newSyncCmd(state *rootState) *cobra.Command {
	var opts SyncOptions
	cmd := &cobra.Command{
		Use:   "sync REPOSITORY",
		Short: "Sync a repository with its remote index",
		Example: `  pymirror sync main --wait
  pymirror sync main --remote pypi --mirror
  pymirror sync main --project requests --project urllib3`,
		Args: cobra.ExactArgs(1),
		RunE: state.run(func(ctx context.Context, c *Cli, args []string) error {
			return c.runSync(ctx, args[0], opts)
		}),
	}
	cmd.Flags().StringVar(&opts.RemoteID, "remote", "", "Remote to sync from (default: the repository's remote)")
	cmd.Flags().StringSliceVar(&opts.Projects, "project", nil, "Sync only these projects")
	cmd.Flags().BoolVar(&opts.Mirror, "mirror", false, "Remove files that are no longer on the remote")
	cmd.Flags().BoolVarP(&opts.Wait, "wait", "w", false, "Wait for the task to finish")
	return cmd
}

func newUploadCmd(state *rootState) *cobra.Command {
	var opts UploadOptions
	cmd := &cobra.Command{
		Use:   "upload REPOSITORY [FILE...]",
		Short: "Upload distributions into the repository's upload session",
		Long: `Upload distribution files. Uploads made while the session window is open
are committed together as one repository version.`,
		Example: `  pymirror upload main dist/*
  pymirror upload main --existing demo-1.0.tar.gz=<sha256>`,
		Args: cobra.MinimumNArgs(1),
		RunE: state.run(func(ctx context.Context, c *Cli, args []string) error {
			return c.runUpload(ctx, args[0], args[1:], opts)
		}),
	}
	cmd.Flags().StringArrayVar(&opts.Existing, "existing", nil, "Add an already stored artifact as filename=sha256")
	cmd.Flags().BoolVar(&opts.NewSession, "new-session", false, "Do not reuse the saved upload session")
	cmd.Flags().BoolVarP(&opts.Wait, "wait", "w", false, "Wait for the session commit")
	return cmd
}

func newUploadGroupCmd(state *rootState) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "upload-group REPOSITORY",
		Short: "Commit the saved upload session now",
		Args:  cobra.ExactArgs(1),
		RunE: state.run(func(ctx context.Context, c *Cli, args []string) error {
			return c.runUploadGroup(ctx, args[0], wait)
		}),
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the task to finish")
	return cmd
}

func newTaskCmd(state *rootState) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "task ID",
		Short: "Show task state",
		Args:  cobra.ExactArgs(1),
		RunE: state.run(func(ctx context.Context, c *Cli, args []string) error {
			return c.runTask(ctx, args[0], wait)
		}),
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the task to finish")
	return cmd
}

// Execute запускает клиент
func Execute(ctx context.Context, io iocli.IO, version string) error {
	return NewRootCmd(io, version).ExecuteContext(ctx)
}
