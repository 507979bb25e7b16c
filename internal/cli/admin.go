package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"racereg/internal/auth"
	"racereg/internal/store"
)

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage admin accounts",
	}
	cmd.AddCommand(adminCreateCmd())
	return cmd
}

func adminCreateCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an admin account",
		Long: `Create an admin account for the admin API.

The password is read from the terminal when --password is not given.

Examples:
  racereg admin create --email ops@example.com
  racereg admin create --email ops@example.com --password s3cret-pass --backend bolt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if email == "" {
				return errors.New("--email is required")
			}
			if password == "" {
				var err error
				if password, err = readPassword(cmd); err != nil {
					return err
				}
			}

			_, s, err := setup(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			a, err := auth.CreateAdmin(cmd.Context(), s, email, password)
			if errors.Is(err, store.ErrDuplicate) {
				return fmt.Errorf("admin %s already exists", email)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Admin created: %s (%s)\n", a.Email, a.ID)
			return nil
		},
	}
	cmd.Flags().StringVarP(&email, "email", "e", "", "admin email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "admin password, prompted when empty")
	return cmd
}

func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	fmt.Fprint(cmd.OutOrStdout(), "Password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(pw), nil
}
