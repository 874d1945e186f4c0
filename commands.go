package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/zsprackett/coursedesk/internal/api"
	"github.com/zsprackett/coursedesk/internal/auth"
	"github.com/zsprackett/coursedesk/internal/channel"
	"github.com/zsprackett/coursedesk/internal/config"
	"github.com/zsprackett/coursedesk/internal/hub"
	"github.com/zsprackett/coursedesk/internal/notify"
	"github.com/zsprackett/coursedesk/internal/status"
	"github.com/zsprackett/coursedesk/internal/webserver"
)

const (
	defaultAwaitTimeout = 10 * time.Minute
	journalRetention    = 30 * 24 * time.Hour
	ticketPageSize      = 20
)

var (
	successColor = color.New(color.FgHiGreen)
	errorColor   = color.New(color.FgHiRed)
	pendingColor = color.New(color.FgHiYellow)
	dimColor     = color.New(color.FgHiBlack)
)

// colorStatus pads a channel or ticket status to width and paints it.
func colorStatus(s string, width int) string {
	padded := fmt.Sprintf("%-*s", width, s)
	switch strings.ToLower(s) {
	case "completed", "resolved", "closed", "success":
		return successColor.Sprint(padded)
	case "failed", "error":
		return errorColor.Sprint(padded)
	case "pending", "processing", "inprogress", "open":
		return pendingColor.Sprint(padded)
	}
	return padded
}

func newRegistry(cfg config.Config, client *api.Client, logger *slog.Logger) *channel.Registry {
	paths := make(map[channel.ID]string, len(cfg.HubPaths))
	for name, path := range cfg.HubPaths {
		paths[channel.ID(name)] = path
	}
	dialer := &hub.Dialer{
		BaseURL:   cfg.HubURL(),
		Paths:     paths,
		Token:     client.Token,
		KeepAlive: cfg.KeepAliveDuration(),
		Logger:    logger,
	}
	return channel.New(dialer,
		channel.WithLogger(logger),
		channel.WithDialTimeout(cfg.RequestTimeoutDuration()),
	)
}

func (a *app) loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <email>",
		Short: "Sign in and store the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runLogin(cmd.Context(), args[0])
		},
	}
}

func (a *app) runLogin(ctx context.Context, email string) error {
	fmt.Printf("Password for %s: ", email)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return err
	}
	client, err := a.newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeoutDuration())
	defer cancel()
	resp, err := client.Login(ctx, email, string(pw))
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	if err := auth.SaveToken(resp.Token); err != nil {
		a.logger.Warn("keyring unavailable, storing token in config file", "err", err)
		a.cfg.Token = resp.Token
	} else {
		a.cfg.Token = ""
	}
	if err := config.Save(a.configPath, a.cfg); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if claims, err := auth.Parse(resp.Token); err == nil && !claims.ExpiresAt.IsZero() {
		fmt.Printf("Signed in as %s (session expires %s)\n", email, humanize.Time(claims.ExpiresAt))
		return nil
	}
	fmt.Printf("Signed in as %s\n", email)
	return nil
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := auth.DeleteToken(); err != nil {
				a.logger.Warn("keyring delete failed", "err", err)
			}
			if a.cfg.Token != "" {
				a.cfg.Token = ""
				if err := config.Save(a.configPath, a.cfg); err != nil {
					return fmt.Errorf("save config: %w", err)
				}
			}
			fmt.Println("Signed out.")
			return nil
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var noRelay bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow refund, payment and video status until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noRelay {
				a.cfg.Relay.Enabled = false
			}
			return a.runWatch(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&noRelay, "no-relay", false, "do not serve the local status page")
	return cmd
}

func (a *app) runWatch(ctx context.Context) error {
	claims, err := auth.Check(a.token(), time.Now())
	if err != nil {
		return err
	}
	store, err := a.openDB()
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()
	if n, err := store.PruneBefore(time.Now().Add(-journalRetention)); err != nil {
		a.logger.Warn("journal prune failed", "err", err)
	} else if n > 0 {
		a.logger.Info("journal pruned", "rows", n)
	}

	client, err := a.newClient()
	if err != nil {
		return err
	}
	reg := newRegistry(a.cfg, client, a.logger)
	defer reg.Close()

	notifier := notify.New(notify.Config(a.cfg.Notifications), a.logger)
	relay := webserver.New(store, client, webserver.Config(a.cfg.Relay), a.logger)

	var projectors []*status.Projector
	for _, f := range status.Features() {
		projectors = append(projectors, status.New(status.Config{
			Feature:     f,
			Registry:    reg,
			Notifier:    notifier,
			Broadcaster: relay,
			Recorder:    store,
			Logger:      a.logger,
		}))
	}
	relay.Track(projectors...)
	if err := relay.Start(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A login from another terminal or an edited notification setting takes
	// effect without a restart. The new token is used on the next redial.
	go func() {
		err := config.Watch(ctx, a.configPath, a.logger, func(c config.Config) {
			client.SetToken(auth.LoadToken(c.Token))
			notifier.SetConfig(notify.Config(c.Notifications))
			if a.logging != nil {
				a.logging.SetLevel(c.LogLevel)
			}
		})
		if err != nil {
			a.logger.Warn("config watch disabled", "err", err)
		}
	}()

	for _, p := range projectors {
		p.Activate(ctx)
	}
	a.logger.Info("watching", "subject", claims.Subject, "features", len(projectors))
	fmt.Printf("Watching refund, payment and video status as %s. Ctrl+C to stop.\n", displayName(claims))
	if a.cfg.Relay.Enabled {
		fmt.Printf("Status page: http://%s/\n", net.JoinHostPort(a.cfg.Relay.Host, strconv.Itoa(a.cfg.Relay.Port)))
	}

	<-ctx.Done()
	for _, p := range projectors {
		p.Deactivate()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return relay.Shutdown(shutdownCtx)
}

func displayName(c auth.Claims) string {
	if c.Email != "" {
		return c.Email
	}
	if c.Subject != "" {
		return c.Subject
	}
	return "unknown user"
}

// awaitNotifier forwards to next and hands the first notification to ch.
type awaitNotifier struct {
	next status.Notifier
	ch   chan status.Notification
}

func (n *awaitNotifier) Notify(note status.Notification) {
	n.next.Notify(note)
	select {
	case n.ch <- note:
	default:
	}
}

// awaitFeature connects f's channel, runs submit and blocks until the
// channel reports a terminal status for f or timeout passes.
func (a *app) awaitFeature(ctx context.Context, client *api.Client, f status.Feature, timeout time.Duration, submit func(context.Context) error) error {
	store, err := a.openDB()
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()

	reg := newRegistry(a.cfg, client, a.logger)
	defer reg.Close()

	results := make(chan status.Notification, 1)
	p := status.New(status.Config{
		Feature:  f,
		Registry: reg,
		Notifier: &awaitNotifier{next: notify.New(notify.Config(a.cfg.Notifications), a.logger), ch: results},
		Recorder: store,
		Logger:   a.logger,
	})

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Connect before submitting so an early status event is not lost.
	if err := reg.Connect(ctx, f.Channel); err != nil {
		return err
	}
	defer reg.Disconnect(f.Channel)
	p.Activate(ctx)
	defer p.Deactivate()

	// Processing goes first so a terminal event that races the submit
	// response is not overwritten.
	p.SetStatus(status.Processing)
	if err := submit(ctx); err != nil {
		p.SetStatus(status.Idle)
		return err
	}
	fmt.Println(dimColor.Sprintf("Waiting for %s status...", f.Name))

	select {
	case n := <-results:
		if n.Level == status.LevelError {
			return errors.New(n.Message)
		}
		successColor.Println(n.Message)
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s status: %w", f.Name, ctx.Err())
	}
}

func (a *app) refundCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "refund <paymentId> [reason]",
		Short: "Request a refund and wait for the outcome",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason := ""
			if len(args) > 1 {
				reason = args[1]
			}
			return a.runRefund(cmd.Context(), args[0], reason, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultAwaitTimeout, "how long to wait for the refund outcome")
	return cmd
}

func (a *app) runRefund(ctx context.Context, paymentID, reason string, timeout time.Duration) error {
	if _, err := auth.Check(a.token(), time.Now()); err != nil {
		return err
	}
	client, err := a.newClient()
	if err != nil {
		return err
	}
	return a.awaitFeature(ctx, client, status.Refund, timeout, func(ctx context.Context) error {
		r, err := client.RequestRefund(ctx, api.RefundRequest{PaymentID: paymentID, Reason: reason})
		if err != nil {
			return fmt.Errorf("request refund: %w", err)
		}
		fmt.Printf("Refund %s requested for payment %s\n", r.RefundID, paymentID)
		return nil
	})
}

func (a *app) uploadCmd() *cobra.Command {
	var (
		courseID    string
		description string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "upload <file> <title>",
		Short: "Upload a video and wait until it is processed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runUpload(cmd.Context(), args[0], api.VideoUpload{
				Title:       args[1],
				Description: description,
				CourseID:    courseID,
			}, timeout)
		},
	}
	cmd.Flags().StringVar(&courseID, "course", "", "course the video belongs to")
	cmd.Flags().StringVar(&description, "description", "", "video description")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultAwaitTimeout, "how long to wait for processing")
	return cmd
}

func (a *app) runUpload(ctx context.Context, path string, up api.VideoUpload, timeout time.Duration) error {
	if _, err := auth.Check(a.token(), time.Now()); err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	up.FileName = filepath.Base(path)
	up.File = f
	up.Size = info.Size()

	client, err := a.newClient()
	if err != nil {
		return err
	}
	return a.awaitFeature(ctx, client, status.Video, timeout, func(ctx context.Context) error {
		fmt.Printf("Uploading %s (%s)\n", up.FileName, humanize.Bytes(uint64(up.Size)))
		v, err := client.UploadVideo(ctx, up)
		if err != nil {
			return fmt.Errorf("upload video: %w", err)
		}
		fmt.Printf("Video %s uploaded\n", v.ID)
		return nil
	})
}

func (a *app) ticketsCmd() *cobra.Command {
	var state string
	cmd := &cobra.Command{
		Use:   "tickets [page]",
		Short: "List support tickets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page := 1
			if len(args) > 0 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid page %q", args[0])
				}
				page = n
			}
			return a.runTickets(cmd.Context(), page, api.TicketStatus(state))
		},
	}
	cmd.Flags().StringVar(&state, "status", "", "only tickets in this status (Open, InProgress, Resolved, Closed)")
	return cmd
}

func (a *app) runTickets(ctx context.Context, page int, state api.TicketStatus) error {
	client, err := a.newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeoutDuration())
	defer cancel()
	res, err := client.ListTickets(ctx, api.TicketFilter{
		PageRequest: api.PageRequest{Page: page, PageSize: ticketPageSize},
		Status:      state,
	})
	if err != nil {
		return fmt.Errorf("list tickets: %w", err)
	}
	if len(res.Items) == 0 {
		fmt.Println("No tickets.")
		return nil
	}
	for _, t := range res.Items {
		fmt.Printf("%-12s  %s  %-14s  %s\n", t.ID, colorStatus(string(t.Status), 10), humanize.Time(t.CreatedAt), t.Subject)
	}
	footer := fmt.Sprintf("page %d of %d (%d tickets)", res.PageNumber, res.TotalPages, res.TotalCount)
	if res.HasNext() {
		footer += fmt.Sprintf("; next: coursedesk tickets %d", res.PageNumber+1)
	}
	fmt.Println(dimColor.Sprint(footer))
	return nil
}

func (a *app) historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history [n]",
		Short: "Show recent channel events from the local journal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit := 20
			if len(args) > 0 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid count %q", args[0])
				}
				limit = n
			}
			return a.runHistory(limit)
		},
	}
}

func (a *app) runHistory(limit int) error {
	store, err := a.openDB()
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer store.Close()
	rows, err := store.RecentChannelEvents(limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Println("No channel events recorded yet.")
		return nil
	}
	for _, e := range rows {
		fmt.Printf("%-14s  %-8s  %-22s  %s  %s\n", humanize.Time(e.Ts), e.Channel, e.Event, colorStatus(e.Status, 9), e.Message)
	}
	return nil
}
