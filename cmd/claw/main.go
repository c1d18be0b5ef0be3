package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/samhotchkiss/openclaw-hub/internal/clawcli"
	"github.com/spf13/cobra"
)

const loginCommand = "claw login --username <admin>"

var (
	bold  = color.New(color.Bold).SprintFunc()
	cyan  = color.New(color.FgCyan, color.Bold).SprintFunc()
	green = color.New(color.FgGreen).SprintFunc()
	red   = color.New(color.FgRed).SprintFunc()
	gray  = color.New(color.FgHiBlack).SprintFunc()
)

// app carries the state shared by every subcommand. Config access goes
// through the two hooks so tests can keep the CLI off the real config file.
type app struct {
	apiOverride string
	jsonOut     bool

	loadConfig func() (clawcli.Config, error)
	saveConfig func(clawcli.Config) error
	stdin      io.Reader
}

func main() {
	a := &app{
		loadConfig: clawcli.LoadConfig,
		saveConfig: clawcli.SaveConfig,
		stdin:      os.Stdin,
	}
	if err := a.rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red(formatCLIError(err)))
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "claw",
		Short:         "Command line client for the OpenClaw hub",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.apiOverride, "api", "", "API base URL (overrides the saved one)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "print raw JSON")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.whoamiCmd(),
		a.healthCmd(),
		a.methodsCmd(),
		a.callCmd(),
		a.execCmd(),
		a.onboardCmd(),
		&cobra.Command{
			Use:   "version",
			Short: "Show CLI version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), "claw dev")
			},
		},
	)
	return root
}

func (a *app) client() (*clawcli.Client, clawcli.Config, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, clawcli.Config{}, err
	}
	return clawcli.NewClient(cfg, a.apiOverride), cfg, nil
}

func (a *app) loginCmd() *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Open an admin session and save its token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cfg, err := a.client()
			if err != nil {
				return err
			}
			if username == "" {
				username = a.prompt(cmd, "Username: ")
			}
			if password == "" {
				password = os.Getenv("CLAW_PASSWORD")
			}
			if password == "" {
				password = a.prompt(cmd, "Password: ")
			}

			session, err := client.Login(username, password)
			if err != nil {
				return err
			}
			if a.apiOverride != "" {
				cfg.APIBaseURL = client.BaseURL
			}
			cfg.Token = session.Token
			cfg.Username = session.Admin.Username
			if err := a.saveConfig(cfg); err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), session)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s logged in as %s (%s), expires %s\n",
				green("✓"), bold(session.Admin.Username), session.Admin.Role,
				session.ExpiresAt.Local().Format("2006-01-02 15:04"))
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "admin username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "admin password (or CLAW_PASSWORD)")
	return cmd
}

func (a *app) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Close the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, cfg, err := a.client()
			if err != nil {
				return err
			}
			if err := client.Logout(); err != nil {
				if code, ok := clawcli.HTTPStatusCode(err); !ok || code != 401 {
					return err
				}
			}
			cfg.Token = ""
			if err := a.saveConfig(cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the admin behind the saved session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			me, err := client.WhoAmI()
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), me)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", cyan("Admin:"), me.Admin.Username)
			fmt.Fprintf(out, "  Role:        %s\n", me.Admin.Role)
			fmt.Fprintf(out, "  Sessions:    %d\n", me.Sessions)
			if len(me.Admin.Permissions) > 0 {
				fmt.Fprintf(out, "  Permissions: %s\n", strings.Join(me.Admin.Permissions, ", "))
			}
			return nil
		},
	}
}

func (a *app) healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the hub is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			health, err := client.Health()
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), health)
			}
			status := green(health.Status)
			if health.Status != "ok" {
				status = red(health.Status)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s (version %s, up %s)\n", cyan("Hub:"), status, health.Version, health.Uptime)
			if len(health.Plugins) == 0 {
				fmt.Fprintf(out, "  %s\n", gray("no plugins loaded"))
			} else {
				fmt.Fprintf(out, "  Plugins: %s\n", strings.Join(health.Plugins, ", "))
			}
			return nil
		},
	}
}

func (a *app) methodsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "methods",
		Short: "List the hub's RPC methods",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			methods, err := client.Methods()
			if err != nil {
				return err
			}
			if a.jsonOut {
				return printJSON(cmd.OutOrStdout(), methods)
			}
			for _, m := range methods {
				fmt.Fprintln(cmd.OutOrStdout(), m)
			}
			return nil
		},
	}
}

func (a *app) callCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [params-json]",
		Short: "Invoke an RPC method",
		Example: `  claw call org.create '{"name":"Acme","type":"company"}'
  claw call approval.list`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := a.client()
			if err != nil {
				return err
			}
			var params any
			if len(args) == 2 {
				raw := json.RawMessage(strings.TrimSpace(args[1]))
				if !json.Valid(raw) {
					return fmt.Errorf("params must be valid JSON")
				}
				params = raw
			}
			result, err := client.Call(args[0], params)
			if err != nil {
				return err
			}
			return printRawJSON(cmd.OutOrStdout(), result)
		},
	}
}

// execCmd forwards its arguments untouched to the server-side command table,
// so flags like --name belong to the remote command.
func (a *app) execCmd() *cobra.Command {
	return &cobra.Command{
		Use:                "exec <command> [args...]",
		Short:              "Run a hub CLI command (org, approval, binding, ...)",
		Example:            "  claw exec org create --name Acme --type company",
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 && (args[0] == "-h" || args[0] == "--help") {
				return cmd.Help()
			}
			client, _, err := a.client()
			if err != nil {
				return err
			}
			output, err := client.Exec(args)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), output)
			if output != "" && !strings.HasSuffix(output, "\n") {
				fmt.Fprintln(cmd.OutOrStdout())
			}
			return nil
		},
	}
}

func (a *app) prompt(cmd *cobra.Command, label string) string {
	fmt.Fprint(cmd.ErrOrStderr(), label)
	reader := bufio.NewReader(a.stdin)
	text, _ := reader.ReadString('\n')
	return strings.TrimSpace(text)
}

func formatCLIError(err error) string {
	if err == nil {
		return ""
	}
	message := strings.TrimSpace(err.Error())
	if strings.Contains(strings.ToLower(message), "missing session token") {
		return fmt.Sprintf("No session found. Run:\n\n  %s", loginCommand)
	}
	var reqErr *clawcli.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode == 401 {
		return fmt.Sprintf("Session rejected (%s). Run:\n\n  %s", reqErr.Detail, loginCommand)
	}
	return message
}

func printJSON(w io.Writer, v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(payload))
	return err
}

func printRawJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		_, err = fmt.Fprintln(w, string(raw))
		return err
	}
	return printJSON(w, v)
}
