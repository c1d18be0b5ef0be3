package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/samhotchkiss/openclaw-hub/internal/onboard"
	"github.com/spf13/cobra"
)

const defaultOnboardConfig = "openclaw.json"

// onboardCmd edits the gateway config file locally. It never talks to the
// hub, so it works before any server is running.
func (a *app) onboardCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Configure model providers in the local gateway config",
	}
	cmd.PersistentFlags().StringVar(&path, "config", "", "gateway config file (default: saved onboardConfig or ./openclaw.json)")

	resolve := func() (string, error) {
		if p := strings.TrimSpace(path); p != "" {
			return p, nil
		}
		if p := strings.TrimSpace(os.Getenv("OPENCLAW_CONFIG_PATH")); p != "" {
			return p, nil
		}
		cfg, err := a.loadConfig()
		if err != nil {
			return "", err
		}
		if p := strings.TrimSpace(cfg.OnboardConfig); p != "" {
			return p, nil
		}
		return defaultOnboardConfig, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "presets",
			Short: "List built-in provider presets",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				out := cmd.OutOrStdout()
				for _, id := range onboard.PresetIDs() {
					preset, _ := onboard.LookupPreset(id)
					fmt.Fprintf(out, "%-12s %s  %s\n", bold(id), preset.Label, gray(onboard.ModelRef(id, preset.DefaultModel)))
				}
				return nil
			},
		},
		a.onboardShowCmd(resolve),
		a.onboardProviderCmd(resolve),
		a.onboardDefaultModelCmd(resolve),
		a.onboardAuthCmd(resolve),
	)
	return cmd
}

func (a *app) onboardShowCmd(resolve func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the gateway config with api keys masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolve()
			if err != nil {
				return err
			}
			cfg, err := onboard.LoadConfig(path)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), maskKeys(cfg))
		},
	}
}

func (a *app) onboardProviderCmd(resolve func() (string, error)) *cobra.Command {
	var (
		apiKey     string
		setDefault bool
	)
	cmd := &cobra.Command{
		Use:   "provider <preset>",
		Short: "Add or refresh a provider from a preset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				apiKey = os.Getenv("CLAW_PROVIDER_API_KEY")
			}
			return updateOnboardConfig(cmd, resolve, func(cfg onboard.Config) (onboard.Config, error) {
				return onboard.ApplyProvider(cfg, args[0], apiKey, setDefault)
			}, func(cfg onboard.Config) string {
				msg := fmt.Sprintf("%s configured provider %s", green("✓"), bold(strings.ToLower(args[0])))
				if setDefault {
					msg += fmt.Sprintf(", default model %s", cfg.Agents.Defaults.Model.Primary)
				}
				return msg
			})
		},
	}
	cmd.Flags().StringVar(&apiKey, "api-key", "", "provider api key (or CLAW_PROVIDER_API_KEY)")
	cmd.Flags().BoolVar(&setDefault, "default", false, "make the preset's model the agents' default")
	return cmd
}

func (a *app) onboardDefaultModelCmd(resolve func() (string, error)) *cobra.Command {
	return &cobra.Command{
		Use:     "default-model <provider/model>",
		Short:   "Set the agents' primary model",
		Example: "  claw onboard default-model moonshot/kimi-k2-0905-preview",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return updateOnboardConfig(cmd, resolve, func(cfg onboard.Config) (onboard.Config, error) {
				return onboard.ApplyDefaultModel(cfg, args[0])
			}, func(cfg onboard.Config) string {
				return fmt.Sprintf("%s default model is now %s", green("✓"), bold(cfg.Agents.Defaults.Model.Primary))
			})
		},
	}
}

func (a *app) onboardAuthCmd(resolve func() (string, error)) *cobra.Command {
	var profile onboard.AuthProfile
	cmd := &cobra.Command{
		Use:   "auth <profile-id>",
		Short: "Record an auth profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" || strings.TrimSpace(profile.Provider) == "" {
				return fmt.Errorf("profile id and --provider are required")
			}
			return updateOnboardConfig(cmd, resolve, func(cfg onboard.Config) (onboard.Config, error) {
				return onboard.ApplyAuthProfile(cfg, id, profile), nil
			}, func(onboard.Config) string {
				return fmt.Sprintf("%s saved auth profile %s", green("✓"), bold(id))
			})
		},
	}
	cmd.Flags().StringVar(&profile.Provider, "provider", "", "provider id")
	cmd.Flags().StringVar(&profile.Mode, "mode", "api_key", "auth mode (api_key, oauth, token)")
	cmd.Flags().StringVar(&profile.Email, "email", "", "account email")
	return cmd
}

func updateOnboardConfig(
	cmd *cobra.Command,
	resolve func() (string, error),
	apply func(onboard.Config) (onboard.Config, error),
	summary func(onboard.Config) string,
) error {
	path, err := resolve()
	if err != nil {
		return err
	}
	cfg, err := onboard.LoadConfig(path)
	if err != nil {
		return err
	}
	next, err := apply(cfg)
	if err != nil {
		return err
	}
	if err := onboard.SaveConfig(path, next); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), summary(next))
	fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", gray("wrote "+path))
	return nil
}

func maskKeys(cfg onboard.Config) onboard.Config {
	out := cfg.Clone()
	for id, provider := range out.Models.Providers {
		if provider.APIKey != "" {
			provider.APIKey = "***"
			out.Models.Providers[id] = provider
		}
	}
	return out
}
