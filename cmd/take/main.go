package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-assessment/internal/assess"
	"github.com/stemsi/exstem-assessment/internal/availability"
	"github.com/stemsi/exstem-assessment/internal/client"
	"github.com/stemsi/exstem-assessment/internal/logger"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/terminal"
	"golang.org/x/term"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "backend base URL")
	kindSlug := flag.String("kind", "quizzes", "assessment kind: quizzes or evaluations")
	rawID := flag.String("id", "", "assessment id")
	nisn := flag.String("nisn", "", "student NISN")
	tz := flag.String("tz", "Asia/Jakarta", "timezone whose calendar day closes the assessment window")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	log := logger.New(os.Stderr, *logLevel, "pretty")

	kind, ok := model.KindFromSlug(*kindSlug)
	if !ok {
		fatalf("unknown kind %q", *kindSlug)
	}
	assessmentID, err := uuid.Parse(*rawID)
	if err != nil {
		fatalf("invalid assessment id: %v", err)
	}
	if *nisn == "" {
		fatalf("-nisn is required")
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		fatalf("unknown timezone %q: %v", *tz, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	password, err := readPassword(scanner)
	if err != nil {
		fatalf("read password: %v", err)
	}
	lines := readLines(scanner)

	backend := client.New(*baseURL, kind, nil, log)
	student, err := backend.Login(ctx, *nisn, password)
	if err != nil {
		fatalf("login failed: %v", err)
	}

	sess := assess.NewSession(backend, assessmentID, student.ID, assess.WithLogger(log), assess.WithLocation(loc))
	access, err := sess.Load(ctx)
	if err != nil {
		fatalf("load failed: %v", err)
	}
	def := sess.Definition()
	fmt.Printf("%s (%d questions, %s)\n", def.Name, len(def.Questions), terminal.Clock(def.GlobalBudgetSeconds()))

	if access.State == availability.StateNotYetOpen {
		for r := range sess.WatchAccess(ctx) {
			access = r
			fmt.Printf("\rOpens in %s   ", terminal.Clock(int(r.SecondsUntilOpen)))
		}
		fmt.Println()
	}

	switch {
	case access.State == availability.StateCompleted:
		fmt.Println("Loading your previous result...")
	case access.CanStart():
		fmt.Print("Start now? The timer cannot be paused. [y/N] ")
		if answer := <-lines; !strings.EqualFold(strings.TrimSpace(answer), "y") {
			return
		}
	default:
		fatalf("cannot start: %s %s", access.State, access.Diagnostic)
	}

	if err := sess.Confirm(); err != nil {
		fatalf("confirm failed: %v", err)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()

	r := terminal.NewRenderer(os.Stdout, def)
	for {
		select {
		case snap, ok := <-sess.Updates():
			if !ok {
				if err := <-runErr; err != nil {
					fatalf("session ended: %v", err)
				}
				fmt.Println()
				if err := assess.RenderSummary(os.Stdout, sess.Summary(), sess.Snapshot().Reason); err != nil {
					fatalf("render summary: %v", err)
				}
				return
			}
			r.Render(snap)
		case line, ok := <-lines:
			if !ok {
				return
			}
			if err := terminal.Dispatch(ctx, sess, r.Current(), line); err != nil {
				fmt.Printf("\n! %v\n", err)
			}
		}
	}
}

// readLines feeds stdin lines to a channel so input never blocks the render loop.
func readLines(scanner *bufio.Scanner) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for scanner.Scan() {
			out <- scanner.Text()
		}
	}()
	return out
}

// readPassword prompts without echo on a terminal and falls back to a plain line when piped.
func readPassword(scanner *bufio.Scanner) (string, error) {
	fmt.Print("Password: ")
	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Println()
		return string(b), err
	}
	if !scanner.Scan() {
		return "", fmt.Errorf("stdin closed")
	}
	return scanner.Text(), nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
