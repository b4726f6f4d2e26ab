package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/medchat/internal/agentconfig"
	"github.com/loykin/medchat/internal/chat"
)

func createConfigCommand(g *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the Bedrock agent configuration file",
		Long: `Manage the agents offered by the chat UI.

Examples:
  medchat config list
  medchat config add "Support Bot" --id ABCDEF1234 --region us-east-1
  medchat config set-default "Support Bot"
  medchat config validate`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List configured agents",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withLoader(cmd, g, func(e *env, l *agentconfig.Loader) error {
					c := l.Load()
					if l.UsingDefaults() {
						_, _ = fmt.Fprintf(e.out, "(built-in agents; %s not usable)\n", l.Path())
					}
					for _, name := range c.Names() {
						a := c.Agents[name]
						mark := " "
						if name == c.DefaultAgent {
							mark = "*"
						}
						id := a.ID
						if id == "" {
							id = "-"
						}
						_, _ = fmt.Fprintf(e.out, "%s %-28s %-12s %-12s %s\n", mark, name, id, a.Alias, a.Region)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show [name]",
			Short: "Print the configuration, or one agent, as JSON",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLoader(cmd, g, func(e *env, l *agentconfig.Loader) error {
					if len(args) == 0 {
						printJSON(e.out, l.Load())
						return nil
					}
					a, ok := l.Agent(args[0])
					if !ok {
						return &exitError{code: exitFailure, err: fmt.Errorf("unknown agent %q", args[0])}
					}
					printJSON(e.out, a)
					return nil
				})
			},
		},
		createConfigAddCommand(g),
		&cobra.Command{
			Use:   "remove <name>",
			Short: "Remove an agent",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLoader(cmd, g, func(e *env, l *agentconfig.Loader) error {
					if _, ok := l.Agent(args[0]); !ok {
						return &exitError{code: exitFailure, err: fmt.Errorf("unknown agent %q", args[0])}
					}
					if err := l.Remove(args[0]); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(e.out, "removed %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "set-default <name>",
			Short: "Choose the agent selected for new sessions",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withLoader(cmd, g, func(e *env, l *agentconfig.Loader) error {
					if err := l.SetDefault(args[0]); err != nil {
						return err
					}
					_, _ = fmt.Fprintf(e.out, "default agent: %s\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Check the agent file strictly",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withLoader(cmd, g, func(e *env, l *agentconfig.Loader) error {
					c, err := l.Validate()
					if err != nil {
						return &exitError{code: exitFailure, err: fmt.Errorf("%s: %w", l.Path(), err)}
					}
					_, _ = fmt.Fprintf(e.out, "%s: ok (%d agents, default %q)\n", l.Path(), len(c.Agents), c.DefaultAgent)
					return nil
				})
			},
		},
	)
	return cmd
}

func createConfigAddCommand(g *GlobalFlags) *cobra.Command {
	f := &AgentAddFlags{}
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add or replace an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name != chat.CustomAgent && f.ID == "" {
				return &exitError{code: exitUsage, err: fmt.Errorf("--id is required")}
			}
			return withLoader(cmd, g, func(e *env, l *agentconfig.Loader) error {
				a := agentconfig.Agent{
					ID:           f.ID,
					Alias:        f.Alias,
					Region:       f.Region,
					Description:  f.Description,
					Capabilities: f.Capabilities,
				}
				if err := l.Add(name, a); err != nil {
					return err
				}
				if f.Default {
					if err := l.SetDefault(name); err != nil {
						return err
					}
				}
				_, _ = fmt.Fprintf(e.out, "saved %s to %s\n", name, l.Path())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.ID, "id", "", "Bedrock agent ID")
	cmd.Flags().StringVar(&f.Alias, "alias", agentconfig.DefaultAlias, "agent alias ID")
	cmd.Flags().StringVar(&f.Region, "region", "", "AWS region (default: the file's default_region)")
	cmd.Flags().StringVar(&f.Description, "description", "", "description shown in the UI")
	cmd.Flags().StringSliceVar(&f.Capabilities, "capability", nil, "capability tag (repeatable)")
	cmd.Flags().BoolVar(&f.Default, "default", false, "also make this the default agent")
	return cmd
}

func withLoader(cmd *cobra.Command, g *GlobalFlags, fn func(*env, *agentconfig.Loader) error) error {
	e, err := loadEnv(cmd, g)
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(e, agentconfig.NewLoader(e.cfg.Agents.File, e.log))
}
