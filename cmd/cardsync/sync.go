package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/conorfennell/cardsync/internal/auth"
	"github.com/conorfennell/cardsync/internal/connectivity"
	"github.com/conorfennell/cardsync/internal/daemon"
	"github.com/conorfennell/cardsync/internal/domain"
	"github.com/conorfennell/cardsync/internal/remote/postgres"
	"github.com/conorfennell/cardsync/internal/study"
	cardsync "github.com/conorfennell/cardsync/internal/sync"
	"github.com/conorfennell/cardsync/internal/web"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	passStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	cellStyle  = lipgloss.NewStyle().PaddingRight(2)
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Run one sync cycle and print its report",
	Long: `Push every pending local change (parents before children, card images
first), then pull every remote change newer than the local watermark.`,
	Args: cobra.NoArgs,
	RunE: run(func(ctx context.Context, a *app, _ []string) error {
		engine, err := a.engine(ctx)
		if err != nil {
			return err
		}
		report := engine.RunFullSync(ctx)
		fmt.Print(renderReport(report))
		if len(report.Errors) > 0 {
			return fmt.Errorf("sync finished with %d error(s)", len(report.Errors))
		}
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show the session and unsynced changes per table",
	Args:    cobra.NoArgs,
	RunE: run(func(ctx context.Context, a *app, _ []string) error {
		session, err := a.sessions.Current(ctx)
		if err != nil {
			fmt.Println(failStyle.Render("✗ session: " + err.Error()))
		} else if session == nil {
			fmt.Println(warnStyle.Render("⚠ not signed in"))
		} else {
			fmt.Printf("%s signed in as %s %s\n", passStyle.Render("✓"), session.UserID,
				mutedStyle.Render("(expires "+session.ExpiresAt.Format(time.RFC3339)+")"))
		}

		fmt.Println(titleStyle.Render("\nPending changes"))
		for _, table := range domain.Tables {
			n, err := a.db.CountPending(ctx, table)
			if err != nil {
				return err
			}
			count := passStyle.Render("0")
			if n > 0 {
				count = warnStyle.Render(fmt.Sprint(n))
			}
			fmt.Println(lipgloss.JoinHorizontal(lipgloss.Top, cellStyle.Width(14).Render(string(table)), count))
		}
		if a.tracker.HasPendingChanges(ctx) {
			fmt.Println(mutedStyle.Render("\nRun 'cardsync sync' to push them."))
		}
		return nil
	}),
}

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Keep syncing in the background and serve the status API",
	Long: `Sync on start-up, whenever the realtime connection comes back online,
when a session appears, when the remote reports a change, and on the
configured interval. The status API listens on http.addr.`,
	Args: cobra.NoArgs,
	RunE: run(func(ctx context.Context, a *app, _ []string) error {
		engine, err := a.engine(ctx)
		if err != nil {
			return err
		}

		var monitor *connectivity.Monitor
		var online interface{ Get() bool }
		if a.cfg.Remote.RealtimeURL != "" {
			monitor = connectivity.NewMonitor(a.cfg.Remote.RealtimeURL, connectivity.DefaultRetry, a.logger)
			online = monitor.Online()
		}

		server := web.NewServer(web.Deps{
			Engine:         engine,
			Store:          a.db,
			Study:          study.New(a.db),
			Sessions:       a.sessions,
			Pending:        a.tracker,
			Online:         online,
			Blobs:          a.blobs,
			AllowedOrigins: a.cfg.HTTP.AllowedOrigins,
			Logger:         a.logger,
		})

		return daemon.New(daemon.Options{
			Engine:   engine,
			Sessions: a.sessions,
			Monitor:  monitor,
			Interval: a.cfg.Sync.Interval,
			Addr:     a.cfg.HTTP.Addr,
			Handler:  server.Handler(),
			Logger:   a.logger,
		}).Run(ctx)
	}),
}

var migrateRemoteCmd = &cobra.Command{
	Use:     "migrate-remote",
	GroupID: "sync",
	Short:   "Create the remote Postgres tables if they do not exist",
	Args:    cobra.NoArgs,
	RunE: run(func(ctx context.Context, a *app, _ []string) error {
		pg, err := postgres.Open(ctx, a.cfg.Remote.DSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		if err := pg.EnsureSchema(ctx); err != nil {
			return err
		}
		fmt.Println(passStyle.Render("✓") + " remote schema is up to date")
		return nil
	}),
}

var loginCmd = &cobra.Command{
	Use:     "login",
	GroupID: "sync",
	Short:   "Store a session token",
	Long: `Store the session token handed out by the sign-in flow (--token), or
issue one locally for --user when jwt_secret is configured.`,
	Args: cobra.NoArgs,
	RunE: run(func(ctx context.Context, a *app, _ []string) error {
		token := loginOpts.token
		if token == "" {
			if loginOpts.user == "" {
				return fmt.Errorf("either --token or --user is required")
			}
			var err error
			token, err = auth.Issue(a.cfg.JWTSecret, loginOpts.user, loginOpts.email, loginOpts.ttl)
			if err != nil {
				return err
			}
		}
		if err := a.sessions.Save(token); err != nil {
			return err
		}
		session, err := a.sessions.Current(ctx)
		if err != nil {
			_ = a.sessions.Clear()
			return fmt.Errorf("token rejected: %w", err)
		}
		if session == nil {
			_ = a.sessions.Clear()
			return fmt.Errorf("token has expired")
		}
		fmt.Printf("%s signed in as %s\n", passStyle.Render("✓"), session.UserID)
		return nil
	}),
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "sync",
	Short:   "Remove the stored session",
	Args:    cobra.NoArgs,
	RunE: run(func(_ context.Context, a *app, _ []string) error {
		return a.sessions.Clear()
	}),
}

var loginOpts struct {
	token, user, email string
	ttl                time.Duration
}

func init() {
	f := loginCmd.Flags()
	f.StringVar(&loginOpts.token, "token", "", "Session token to store")
	f.StringVar(&loginOpts.user, "user", "", "User id to issue a token for")
	f.StringVar(&loginOpts.email, "email", "", "Email of the issued token")
	f.DurationVar(&loginOpts.ttl, "ttl", 30*24*time.Hour, "Lifetime of the issued token")

	rootCmd.AddCommand(syncCmd, statusCmd, daemonCmd, migrateRemoteCmd, loginCmd, logoutCmd)
}

// renderReport formats a cycle report for the terminal.
func renderReport(r cardsync.Report) string {
	var b strings.Builder
	if r.Skipped != "" {
		fmt.Fprintf(&b, "%s sync skipped: %s\n", warnStyle.Render("⚠"), r.Skipped)
		return b.String()
	}

	b.WriteString(titleStyle.Render("Sync report") + "\n")
	header := []string{"table", "created", "updated", "deleted", "deferred", "failed", "pulled", "removed", "orphaned"}
	b.WriteString(row(header, mutedStyle) + "\n")

	for _, t := range domain.Tables {
		c, ok := r.Tables[t]
		if !ok {
			continue
		}
		b.WriteString(row([]string{string(t),
			fmt.Sprint(c.Created), fmt.Sprint(c.Updated), fmt.Sprint(c.Deleted),
			fmt.Sprint(c.Deferred), fmt.Sprint(c.Failed), fmt.Sprint(c.Pulled),
			fmt.Sprint(c.Removed), fmt.Sprint(c.Orphaned),
		}, lipgloss.NewStyle()) + "\n")
	}

	for _, e := range r.Errors {
		b.WriteString(failStyle.Render("✗ "+e) + "\n")
	}
	took := r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)
	if r.Pending {
		fmt.Fprintf(&b, "%s done in %v, changes still pending\n", warnStyle.Render("⚠"), took)
	} else {
		fmt.Fprintf(&b, "%s done in %v, everything synced\n", passStyle.Render("✓"), took)
	}
	return b.String()
}

func row(cells []string, style lipgloss.Style) string {
	rendered := make([]string, len(cells))
	for i, c := range cells {
		s := style.Inherit(cellStyle)
		switch {
		case i == 0:
			s = s.Width(12)
		case i < len(cells)-1:
			s = s.Width(10)
		}
		rendered[i] = s.Render(c)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, rendered...)
}
