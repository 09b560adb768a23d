package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Clarekpd/ss-expense-tracker/internal/auth"
	"github.com/Clarekpd/ss-expense-tracker/internal/backend"
	"github.com/Clarekpd/ss-expense-tracker/internal/cli"
	"github.com/Clarekpd/ss-expense-tracker/internal/config"
	"github.com/Clarekpd/ss-expense-tracker/internal/log"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(stderr)

	username := fs.String("user", "", "Username")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	dbPath := fs.String("db", "", "Path to a SQLite database (overrides DATA_BACKEND and SQLITE_DB_PATH)")
	printToken := fs.Bool("token", false, "Print a session token for the new user (needs JWT_SECRET, honours TOKEN_TTL)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if strings.TrimSpace(*username) == "" {
		fmt.Fprintln(stdout, "Usage: adduser -user <username> [-password <password>] [-db <db_path>] [-token]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: user")
	}

	cfg := config.Load()
	if *dbPath != "" {
		cfg.DataBackend = string(backend.SQLiteBackend)
		cfg.SQLiteDBPath = *dbPath
	}
	if cfg.DataBackend == string(backend.MemoryBackend) {
		return fmt.Errorf("adduser needs a persistent backend, DATA_BACKEND is %s", cfg.DataBackend)
	}
	// Users created here publish no events.
	cfg.AMQPURL = ""

	if *printToken && cfg.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required to issue a token")
	}

	password := *passwordFlag
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		var err error
		password, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout)
	}

	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password cannot be empty")
	}

	ctx := context.Background()
	logger := log.New(log.Config{Level: slog.LevelWarn, Output: stderr, Component: log.ComponentCLI})
	be, err := cli.OpenBackend(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer be.Cleanup()

	tokens := auth.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL, nil)
	svc := auth.NewService(be.Store, tokens, logger)

	userID, err := svc.Signup(ctx, *username, password)
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", strings.TrimSpace(*username), err)
	}

	fmt.Fprintf(stdout, "User %s created successfully with ID %s\n", strings.TrimSpace(*username), userID)

	if *printToken {
		token, err := tokens.Issue(userID)
		if err != nil {
			return fmt.Errorf("failed to issue token: %w", err)
		}
		fmt.Fprintf(stdout, "Token: %s\n", token)
	}
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Pipes and tests
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
