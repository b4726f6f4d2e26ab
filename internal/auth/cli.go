package auth

import (
	"fmt"
	"io"
	"strings"
)

// CLIHelper prints user management results for the command line.
type CLIHelper struct {
	store *Store
	out   io.Writer
}

func NewCLIHelper(store *Store, out io.Writer) *CLIHelper {
	return &CLIHelper{store: store, out: out}
}

func (cli *CLIHelper) AddUser(username, password, role, name string) error {
	if err := cli.store.Add(username, password, role, name); err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	_, _ = fmt.Fprintf(cli.out, "User '%s' created\n", username)
	return nil
}

func (cli *CLIHelper) RemoveUser(username string) error {
	if err := cli.store.Remove(username); err != nil {
		return fmt.Errorf("remove user: %w", err)
	}
	_, _ = fmt.Fprintf(cli.out, "User '%s' removed\n", username)
	return nil
}

func (cli *CLIHelper) ListUsers() error {
	users, err := cli.store.List()
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	_, _ = fmt.Fprintf(cli.out, "Users (%d total):\n", len(users))
	_, _ = fmt.Fprintf(cli.out, "%-20s %-10s %-30s %s\n", "Username", "Role", "Name", "Created")
	_, _ = fmt.Fprintln(cli.out, strings.Repeat("─", 80))
	for _, u := range users {
		created := "-"
		if !u.CreatedAt.IsZero() {
			created = u.CreatedAt.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(cli.out, "%-20s %-10s %-30s %s\n", u.Username, u.Role, u.Name, created)
	}
	return nil
}
