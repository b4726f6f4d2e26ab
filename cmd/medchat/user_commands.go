package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/loykin/medchat/internal/auth"
)

func createUserCommand(g *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage chat UI users",
		Long: `Manage the users file read by the chat UI and control API.

Examples:
  medchat user add alice --role admin --name "Alice Kim"
  echo 's3cret' | medchat user add bob
  medchat user list
  medchat user remove bob`,
	}
	cmd.AddCommand(createUserAddCommand(g))
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <username>",
		Short: "Remove a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUsers(cmd, g, func(cli *auth.CLIHelper) error {
				return cli.RemoveUser(args[0])
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withUsers(cmd, g, func(cli *auth.CLIHelper) error {
				return cli.ListUsers()
			})
		},
	})
	return cmd
}

func createUserAddCommand(g *GlobalFlags) *cobra.Command {
	f := &UserAddFlags{}
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user (password from --password, a prompt or stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := f.Password
			if pw == "" {
				var err error
				if pw, err = readPassword(cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
					return &exitError{code: exitUsage, err: err}
				}
			}
			return withUsers(cmd, g, func(cli *auth.CLIHelper) error {
				return cli.AddUser(args[0], pw, f.Role, f.Name)
			})
		},
	}
	cmd.Flags().StringVar(&f.Password, "password", "", "password (prompted when omitted)")
	cmd.Flags().StringVar(&f.Role, "role", auth.RoleUser, "role: admin or user")
	cmd.Flags().StringVar(&f.Name, "name", "", "display name (default: the username)")
	return cmd
}

func withUsers(cmd *cobra.Command, g *GlobalFlags, fn func(*auth.CLIHelper) error) error {
	e, err := loadEnv(cmd, g)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(auth.NewCLIHelper(auth.NewStore(e.cfg.Auth.UsersFile), e.out))
}

// readPassword prompts twice on a terminal; piped input supplies one line.
func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fd := int(f.Fd())
		_, _ = fmt.Fprint(prompt, "Password: ")
		first, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		_, _ = fmt.Fprint(prompt, "Confirm password: ")
		second, err := term.ReadPassword(fd)
		_, _ = fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		if string(first) != string(second) {
			return "", errors.New("passwords do not match")
		}
		if len(first) == 0 {
			return "", errors.New("password is empty")
		}
		return string(first), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("password is empty")
	}
	return line, nil
}
