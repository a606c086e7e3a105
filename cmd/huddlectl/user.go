package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/term"

	"github.com/lalith-99/huddle/internal/repository/postgres"
)

const minPasswordLen = 8

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}
	cmd.AddCommand(newUserCreateCmd())
	return cmd
}

func newUserCreateCmd() *cobra.Command {
	var email, name, role, level string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Long: `Create an account with any role, admin included. Signup over the
API cannot grant admin.

The password is prompted for on a terminal, or read from the first line
of stdin otherwise:
  echo "$PASSWORD" | huddlectl user create --email ana@example.com --name Ana`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email = strings.ToLower(strings.TrimSpace(email))
			if !strings.Contains(email, "@") {
				return fmt.Errorf("--email %q is not an email address", email)
			}
			switch role {
			case "student", "teacher", "admin":
			default:
				return fmt.Errorf("--role must be student, teacher or admin, got %q", role)
			}

			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}

			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.logger.Sync()

			ctx := cmd.Context()
			database, err := e.database(ctx)
			if err != nil {
				return err
			}
			defer database.Close()

			users := postgres.NewUserStore(database.Pool())
			existing, err := users.GetByEmail(ctx, email)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("email %s already registered", email)
			}
			user, err := users.Create(ctx, email, strings.TrimSpace(name), role, level, string(hash))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&email, "email", "", "login email (required)")
	f.StringVar(&name, "name", "", "display name (required)")
	f.StringVar(&role, "role", "student", "role: student, teacher or admin")
	f.StringVar(&level, "level", "", "level label")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

// readPassword prompts twice with echo off when stdin is a terminal, and
// reads one line from in otherwise.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	var password string
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Password: ")
		first, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		fmt.Fprint(prompt, "Confirm password: ")
		second, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
		password = string(first)
	} else {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}

	if len(password) < minPasswordLen {
		return "", fmt.Errorf("password must be at least %d characters", minPasswordLen)
	}
	return password, nil
}
