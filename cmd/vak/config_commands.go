package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"vak/internal/config"
)

const defaultConfigName = "vak.toml"

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:         "config",
		Short:       "Configuration utilities",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigOptionsCommand(ctx))

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Create a sample configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := defaultConfigName
			if len(args) == 1 && strings.TrimSpace(args[0]) != "" {
				target = strings.TrimSpace(args[0])
			}
			expanded, err := config.ExpandPath(target)
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}
			target = expanded

			if !overwrite {
				if _, err := os.Stat(target); err == nil {
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				} else if !os.IsNotExist(err) {
					return fmt.Errorf("check config path: %w", err)
				}
			}

			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintf(out, "Edit PREP.data_dir and the results paths, then run `vak prep %s`.\n", filepath.Base(target))
			return nil
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

type validateOutput struct {
	Path     string   `json:"path"`
	Sections []string `json:"sections"`
	Models   []string `json:"models,omitempty"`
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := validateOutput{Path: cfg.Path, Sections: presentSections(cfg)}
			out.Models = sortedKeys(cfg.Models)
			if ctx.wantJSON() {
				return writeJSON(cmd, out)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Config path: %s\n", out.Path)
			fmt.Fprintf(w, "Sections: %s\n", strings.Join(out.Sections, ", "))
			if len(out.Models) > 0 {
				fmt.Fprintf(w, "Model tables: %s\n", strings.Join(out.Models, ", "))
			}
			fmt.Fprintln(w, "Configuration valid")
			return nil
		},
	}
}

// presentSections names the command sections found in cfg, in the order
// commands consume them.
func presentSections(cfg *config.Config) []string {
	var out []string
	if cfg.Prep != nil {
		out = append(out, config.SectionPrep)
	}
	if cfg.Eval != nil {
		out = append(out, config.SectionEval)
	}
	if cfg.Train != nil {
		out = append(out, config.SectionTrain)
	}
	if cfg.Learncurve != nil {
		out = append(out, config.SectionLearncurve)
	}
	if cfg.Predict != nil {
		out = append(out, config.SectionPredict)
	}
	return out
}

type optionOutput struct {
	Section string `json:"section"`
	Option  string `json:"option"`
	Kind    string `json:"kind"`
}

func newConfigOptionsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "options [section]",
		Short: "List the options each section accepts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sections := config.SectionNames()
			if len(args) == 1 {
				name := strings.ToUpper(strings.TrimSpace(args[0]))
				if len(config.ValidOptions(name)) == 0 {
					return fmt.Errorf("%w: %q (valid sections: %s)", config.ErrInvalidSection, args[0], strings.Join(sections, ", "))
				}
				sections = []string{name}
			}
			var opts []optionOutput
			for _, section := range sections {
				for _, option := range config.ValidOptions(section) {
					kind, _ := config.OptionKind(section, option)
					opts = append(opts, optionOutput{Section: section, Option: option, Kind: kind})
				}
			}
			if ctx.wantJSON() {
				return writeJSON(cmd, opts)
			}
			rows := make([][]string, 0, len(opts))
			for _, o := range opts {
				rows = append(rows, []string{o.Section, o.Option, o.Kind})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Section", "Option", "Kind"}, rows, nil))
			return nil
		},
	}
}
