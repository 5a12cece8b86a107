package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/auctionroom/go/internal/auction"
	"github.com/mcdev12/auctionroom/go/internal/auction/session"
	"github.com/mcdev12/auctionroom/go/internal/clientconfig"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	auctionID := flag.String("auction", "", "auction to join (overrides AUCTION_ID)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load .env file: %v\n", err)
	}

	cfg, err := clientconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *auctionID != "" {
		cfg.AuctionID = *auctionID
	}

	zerolog.SetGlobalLevel(cfg.Level())
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("auction room client exited")
	}
}

func run(ctx context.Context, cfg clientconfig.Config, in io.Reader, out io.Writer) error {
	jr, err := setupJournal(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up bid journal: %w", err)
	}

	services, err := setupServices(cfg, jr)
	if err != nil {
		if jr != nil {
			jr.Close()
		}
		return err
	}
	defer services.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		if err := services.Session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("session controller stopped")
		}
	}()
	if services.Journal != nil {
		go func() { _ = services.Journal.Run(ctx, services.Session) }()
	}
	if cfg.StatusAddr != "" {
		go serve(ctx, setupServer(cfg.StatusAddr, services))
	}

	identity := auction.Identity{UserID: cfg.Auth.UserID, Token: cfg.Auth.Token}
	if err := services.Conn.Connect(ctx, identity); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	term := &terminal{services: services, out: out}
	go term.render(ctx)

	if cfg.AuctionID != "" {
		term.join(ctx, cfg.AuctionID)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	term.printf("commands: join <id> | bid <amount> | refresh | leave | retry | pay | quit\n")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := term.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// terminal renders the session to out and turns input lines into session calls.
type terminal struct {
	services *Services

	mu  sync.Mutex
	out io.Writer
}

func (t *terminal) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.out, format, args...)
}

func (t *terminal) join(ctx context.Context, auctionID string) {
	if err := t.services.Session.Join(ctx, auctionID); err != nil {
		t.printf("join %s failed: %v\n", auctionID, err)
		return
	}
	if snap, ok := t.services.Session.Snapshot(); ok {
		t.printf("joined %q: price %s, minimum bid %s, %s left\n",
			snap.Item.Title, snap.CurrentPrice, snap.MinimumBid(), t.services.Session.Countdown())
	}
}

func (t *terminal) handle(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}

	sess := t.services.Session
	switch fields[0] {
	case "quit", "exit":
		return true
	case "join":
		if len(fields) < 2 {
			t.printf("usage: join <auction id>\n")
			return false
		}
		t.join(ctx, fields[1])
	case "leave":
		if err := sess.Leave(ctx, sess.AuctionID()); err != nil {
			t.printf("leave failed: %v\n", err)
		}
	case "refresh":
		if err := sess.Refresh(ctx); err != nil {
			t.printf("refresh failed: %v\n", err)
		}
	case "bid":
		if len(fields) < 2 {
			t.printf("usage: bid <amount>\n")
			return false
		}
		amount, err := decimal.NewFromString(fields[1])
		if err != nil {
			t.printf("%q is not an amount\n", fields[1])
			return false
		}
		intent, err := t.services.Submitter.Submit(ctx, amount)
		if err != nil {
			t.printf("bid %s: %v\n", amount, err)
			return false
		}
		t.printf("bid %s sent via %s (%s)\n", amount, intent.Via, intent.Resolution)
	case "retry":
		out, err := sess.RetryOutcome(ctx)
		if errors.Is(err, session.ErrNotEnded) {
			t.printf("auction has not ended yet\n")
			return false
		}
		if err != nil {
			t.printf("resolve failed: %v\n", err)
			return false
		}
		t.showOutcome(out)
	case "pay":
		t.pay(ctx)
	default:
		t.printf("unknown command %q\n", fields[0])
	}
	return false
}

func (t *terminal) pay(ctx context.Context) {
	out, ok := t.services.Session.Outcome()
	if !ok || !out.IsWinner || out.Payment == nil {
		t.printf("nothing to pay\n")
		return
	}
	receipt, err := t.services.Resolver.Checkout(ctx, *out.Payment)
	if err != nil {
		t.printf("checkout failed: %v\n", err)
		return
	}
	if receipt.CheckoutURL != "" {
		t.printf("complete payment at %s\n", receipt.CheckoutURL)
		return
	}
	t.printf("order %s: %s via %s\n", receipt.OrderID, receipt.Status, receipt.Method)
}

func (t *terminal) showOutcome(out auction.Outcome) {
	switch {
	case out.Err != nil:
		t.printf("auction ended, could not resolve the order yet (%v); type retry\n", out.Err)
	case out.IsWinner && out.Payment != nil:
		t.printf("you won auction %s for %s; type pay to check out order %s\n",
			out.AuctionID, out.Payment.Amount, out.Payment.OrderID)
	case out.IsWinner:
		t.printf("you won auction %s\n", out.AuctionID)
	default:
		t.printf("auction %s ended; you did not win\n", out.AuctionID)
	}
}

// render prints snapshot changes, notices, bid resolutions and the countdown as they arrive.
func (t *terminal) render(ctx context.Context) {
	sess := t.services.Session
	snapshots, unsubSnapshots := sess.SubscribeSnapshots()
	defer unsubSnapshots()
	notices, unsubNotices := sess.SubscribeNotices()
	defer unsubNotices()
	intents, unsubIntents := sess.SubscribeIntents()
	defer unsubIntents()
	outcomes, unsubOutcomes := sess.SubscribeOutcome()
	defer unsubOutcomes()
	views, unsubViews := sess.SubscribeCountdown()
	defer unsubViews()
	states, unsubStates := t.services.Conn.SubscribeState()
	defer unsubStates()

	lastShown := ""
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snapshots:
			t.printf("[%s] price %s (%d bids), next minimum %s\n",
				snap.Status, snap.CurrentPrice, snap.BidCount, snap.MinimumBid())
		case n := <-notices:
			t.printf("! %s\n", n.Message)
		case intent := <-intents:
			if intent.Resolution.Final() {
				t.printf("bid %s %s %s\n", intent.Amount, intent.Resolution, intent.Reason)
			}
		case out := <-outcomes:
			t.showOutcome(out)
		case v := <-views:
			// Only print on whole minutes and the final ten seconds.
			text := v.String()
			if text != lastShown && (v.Expired || v.Remaining%time.Minute < time.Second || v.Remaining <= 10*time.Second) {
				t.printf("time left: %s\n", text)
				lastShown = text
			}
		case st := <-states:
			if st.Status == auction.ConnReconnecting {
				t.printf("connection lost, reconnecting (attempt %d in %s)\n", st.Attempt, st.Backoff.Round(time.Millisecond))
			} else if st.Err != nil {
				t.printf("connection closed: %v\n", st.Err)
			}
		}
	}
}
