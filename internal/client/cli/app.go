// Package cli implements the ahkctl commands on top of the api client and
// the shared session store.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/JakeRemmich/AutoHotKey/internal/client/api"
	"github.com/JakeRemmich/AutoHotKey/internal/client/clientconfig"
	"github.com/JakeRemmich/AutoHotKey/internal/client/session"
	"github.com/JakeRemmich/AutoHotKey/internal/domain/users"
	"github.com/rs/zerolog"
)

const usage = `usage: ahkctl <command> [args]

commands:
  register              create an account
  login                 sign in
  logout                sign out
  whoami                show the signed-in user
  usage                 show plan and remaining generations
  generate "<text>"     turn a description into a script
  history               list saved scripts
  watch                 follow session changes made by other ahkctl processes
`

// ErrUsage is returned for an unknown command or missing arguments.
var ErrUsage = errors.New("invalid usage")

// cliNavigator reports a forced logout on the terminal instead of moving
// between screens.
type cliNavigator struct {
	out io.Writer
}

func (cliNavigator) CurrentPath() string { return "" }

func (n cliNavigator) Navigate(path string) {
	if path == api.LoginPath {
		fmt.Fprintln(n.out, "Your session has ended. Run `ahkctl login` to sign in again.")
	}
}

type App struct {
	client   *api.Client
	state    *session.State
	store    *session.SQLiteStore
	dbPath   string
	reader   *bufio.Reader
	out      io.Writer
	log      zerolog.Logger
	password func(prompt string, w io.Writer) (string, error)
}

func NewApp(ctx context.Context, cfg *clientconfig.Config, log zerolog.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.SessionPath), 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	store, err := session.OpenSQLiteStore(ctx, cfg.SessionPath)
	if err != nil {
		return nil, err
	}

	state := session.NewState(store, log)
	if err := state.Init(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	out := io.Writer(os.Stdout)
	client, err := api.NewClient(cfg.BaseURL, state,
		api.WithTimeouts(cfg.RequestTimeout, cfg.RefreshTimeout),
		api.WithNavigator(cliNavigator{out: out}),
		api.WithLogger(log),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	return &App{
		client:   client,
		state:    state,
		store:    store,
		dbPath:   cfg.SessionPath,
		reader:   bufio.NewReader(os.Stdin),
		out:      out,
		log:      log,
		password: GetPassword,
	}, nil
}

func (a *App) Close() error {
	return a.store.Close()
}

func (a *App) Usage() {
	fmt.Fprint(a.out, usage)
}

// Run executes one command.
func (a *App) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return ErrUsage
	}

	switch args[0] {
	case "register":
		return a.credentials(ctx, a.client.Register)
	case "login":
		return a.credentials(ctx, a.client.Login)
	case "logout":
		if err := a.client.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "Signed out.")
		return nil
	case "whoami":
		return a.whoami()
	case "usage":
		return a.usage(ctx)
	case "generate":
		if len(args) < 2 {
			return ErrUsage
		}
		return a.generate(ctx, strings.Join(args[1:], " "))
	case "history":
		return a.history(ctx)
	case "watch":
		return a.watch(ctx)
	default:
		return ErrUsage
	}
}

func (a *App) credentials(ctx context.Context, call func(ctx context.Context, email, password string) (*users.UserProfile, error)) error {
	email, err := GetText(a.reader, "Email", a.out)
	if err != nil {
		return err
	}
	password, err := a.password("Password", a.out)
	if err != nil {
		return err
	}

	user, err := call(ctx, email, password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s (%s plan)\n", user.Email, user.SubscriptionPlan)
	return nil
}

func (a *App) whoami() error {
	user := a.state.User()
	if user == nil {
		fmt.Fprintln(a.out, "Not signed in.")
		return nil
	}
	fmt.Fprintf(a.out, "%s (%s, %s plan)\n", user.Email, user.Role, user.SubscriptionPlan)
	return nil
}

func (a *App) usage(ctx context.Context) error {
	acct, err := a.client.Account(ctx)
	if err != nil {
		return err
	}
	u := acct.Usage
	limit := fmt.Sprintf("%d", u.Limit)
	if u.Limit < 0 {
		limit = "unlimited"
	}
	fmt.Fprintf(a.out, "plan: %s\ngenerated: %d\ncredits: %d\nlimit: %s\n", u.Plan, u.ScriptsGeneratedCount, u.Credits, limit)
	return nil
}

func (a *App) generate(ctx context.Context, description string) error {
	script, err := a.client.Generate(ctx, description)
	var apiErr *api.Error
	if api.IsQuotaExceeded(err) && errors.As(err, &apiErr) {
		fmt.Fprintln(a.out, apiErr.Message)
		fmt.Fprintln(a.out, "Upgrade your plan or buy script credits to keep generating.")
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, script)
	return nil
}

func (a *App) history(ctx context.Context) error {
	list, err := a.client.History(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No saved scripts.")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCREATED")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.ID.Hex(), s.Name, s.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

func (a *App) watch(ctx context.Context) error {
	unsubscribe := a.state.Subscribe(func(ev session.Event) {
		switch {
		case ev.Kind == session.AuthCleared:
			fmt.Fprintln(a.out, "session cleared")
		case ev.User != nil:
			fmt.Fprintf(a.out, "%s: %s\n", ev.Status, ev.User.Email)
		default:
			fmt.Fprintln(a.out, ev.Status)
		}
	})
	defer unsubscribe()

	fmt.Fprintf(a.out, "watching %s (%s)\n", a.dbPath, a.state.Status())
	return session.NewWatcher(a.state, a.dbPath, a.log).Run(ctx)
}
