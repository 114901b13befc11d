// Package cli is the eventsphere command-line front-end: it wires config, the session manager,
// the request pipeline and the domain clients, and runs one command per invocation.
package cli

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/alanmathew190/EventManagementSystem/internal/apiclient"
	"github.com/alanmathew190/EventManagementSystem/internal/audit"
	auditrepo "github.com/alanmathew190/EventManagementSystem/internal/audit/repository"
	"github.com/alanmathew190/EventManagementSystem/internal/config"
	"github.com/alanmathew190/EventManagementSystem/internal/db/migrate"
	"github.com/alanmathew190/EventManagementSystem/internal/event"
	"github.com/alanmathew190/EventManagementSystem/internal/identity"
	"github.com/alanmathew190/EventManagementSystem/internal/payment"
	"github.com/alanmathew190/EventManagementSystem/internal/policy/engine"
	"github.com/alanmathew190/EventManagementSystem/internal/security"
	sessionrepo "github.com/alanmathew190/EventManagementSystem/internal/session/repository"
	"github.com/alanmathew190/EventManagementSystem/internal/session/service"
	"github.com/alanmathew190/EventManagementSystem/internal/telemetry"
	telemetryotel "github.com/alanmathew190/EventManagementSystem/internal/telemetry/otel"
	"github.com/alanmathew190/EventManagementSystem/internal/ticket"
)

// Streams are the process's standard streams. In may be an *os.File, in which case a terminal
// gets a hidden password prompt.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// App holds everything a command needs. Build it with New and release it with Close.
type App struct {
	cfg *config.Config
	in  *bufio.Reader
	raw io.Reader
	out io.Writer
	err io.Writer
	// tty is set when out is a terminal that can show a block-character QR code.
	tty bool

	db        *sql.DB
	providers *telemetryotel.Providers

	base     *apiclient.Client
	session  *service.Manager
	events   *event.Client
	payments payment.Strategy
	guard    *engine.OPAEvaluator
	audit    *audit.Logger
	tickets  *ticket.Store
}

// New wires the application for cfg.
func New(ctx context.Context, cfg *config.Config, s Streams) (*App, error) {
	a := &App{cfg: cfg, raw: s.In, in: bufio.NewReader(s.In), out: s.Out, err: s.Err}
	if f, ok := s.Out.(*os.File); ok {
		a.tty = ticket.IsTerminal(f)
	}

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	providers.SetGlobal()
	a.providers = providers
	metrics, err := telemetryotel.NewClientMetrics(providers.MeterProvider.Meter("eventsphere"))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	emitter := telemetryotel.NewEventEmitter(providers.LoggerProvider)

	a.db, err = migrate.OpenMigrated(cfg.DatabasePath())
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("state database: %w", err)
	}
	a.audit = audit.NewLogger(auditrepo.NewSQLiteRepository(a.db))
	a.tickets = ticket.NewStore(a.db)

	repo, err := a.tokenStore()
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	a.base = apiclient.New(apiclient.Options{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.Timeout(),
		Limiter: limiter,
		Metrics: metrics,
		Audit:   a.audit,
		OnSessionExpired: func(reason string) {
			fmt.Fprintf(a.err, "Session expired (%s). Run `eventsphere login` to sign in again.\n", reason)
		},
	})

	a.session, err = service.NewManager(ctx, identity.NewClient(a.base), repo, service.Options{
		Audit:   a.audit,
		Emitter: emitter,
		Metrics: metrics,
		OnLoading: func(loading bool) {
			if loading {
				fmt.Fprintln(a.err, "Signing in...")
			}
		},
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	authed := a.base.WithTokenSource(a.session)
	a.events = event.NewClient(authed)
	a.payments, err = payment.New(cfg.PaymentStrategy, authed)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.guard, err = engine.NewOPAEvaluator(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) tokenStore() (sessionrepo.Repository, error) {
	var sealer *security.Sealer
	if a.cfg.TokenStorePassphrase != "" {
		s, err := security.NewSealer(a.cfg.TokenStorePassphrase)
		if err != nil {
			return nil, fmt.Errorf("token store: %w", err)
		}
		sealer = s
	}
	if a.cfg.TokenStore == config.TokenStoreSQLite {
		return sessionrepo.NewSQLiteRepository(a.db, sealer), nil
	}
	return sessionrepo.NewFileRepository(a.cfg.SessionFilePath(), sealer), nil
}

// Close flushes telemetry and closes the state database.
func (a *App) Close(ctx context.Context) {
	if !telemetry.Drain(2 * time.Second) {
		log.Printf("cli: telemetry events still pending at exit")
	}
	if a.providers != nil {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := a.providers.Shutdown(sctx); err != nil {
			log.Printf("cli: telemetry shutdown: %v", err)
		}
		cancel()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			log.Printf("cli: close state database: %v", err)
		}
	}
}

// Run parses args, authorizes the command and runs it. It returns the process exit code:
// 0 on success, 1 on failure, 2 on usage errors.
func (a *App) Run(ctx context.Context, args []string) int {
	if len(args) == 0 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		a.usage(a.out)
		if len(args) == 0 {
			return 2
		}
		return 0
	}
	cmd, ok := lookup(args[0])
	if !ok {
		fmt.Fprintf(a.err, "eventsphere: unknown command %q\n\n", args[0])
		a.usage(a.err)
		return 2
	}
	if err := a.authorize(ctx, cmd.name); err != nil {
		fmt.Fprintln(a.err, "eventsphere:", describe(err))
		return 1
	}
	err := cmd.run(a, ctx, args[1:])
	var ue *usageError
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errHelp):
		return 0
	case errors.As(err, &ue):
		fmt.Fprintf(a.err, "eventsphere %s: %s\nusage: eventsphere %s %s\n", cmd.name, ue.msg, cmd.name, cmd.usage)
		return 2
	}
	fmt.Fprintln(a.err, "eventsphere:", describe(err))
	return 1
}

// authorize asks the access guard whether the current session may open the command's view.
func (a *App) authorize(ctx context.Context, name string) error {
	subject := engine.Subject{}
	if s, ok := a.session.Current(); ok {
		subject = engine.Subject{Authenticated: true, Username: s.Username, IsAdmin: s.IsAdmin}
	}
	d, err := a.guard.Authorize(ctx, engine.ViewFor(name), subject)
	if err != nil {
		log.Printf("cli: access check for %s: %v", name, err)
	}
	if d.Allow {
		return nil
	}
	if d.Redirect == engine.RedirectEvents {
		return errAdminOnly
	}
	return errNotLoggedIn
}

// username is the current session's user, or "" when logged out.
func (a *App) username() string {
	if s, ok := a.session.Current(); ok {
		return s.Username
	}
	return ""
}

// readLine reads one line of input without the trailing newline.
func (a *App) readLine(prompt string) (string, error) {
	if prompt != "" {
		fmt.Fprint(a.err, prompt)
	}
	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return trimNewline(line), nil
}

// readSecret prompts without echo on a terminal and reads a plain line otherwise.
func (a *App) readSecret(prompt string) (string, error) {
	if f, ok := a.raw.(*os.File); ok && ticket.IsTerminal(f) {
		fmt.Fprint(a.err, prompt)
		return readPassword(f, a.err)
	}
	return a.readLine("")
}
