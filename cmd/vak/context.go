package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"vak/internal/config"
	"vak/internal/engine"
	"vak/internal/logging"
	"vak/internal/services"
)

type commandContext struct {
	logLevel   *string
	logFormat  *string
	jsonOutput *bool

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error

	config *config.Config
}

func newCommandContext(logLevel, logFormat *string, jsonOutput *bool) *commandContext {
	return &commandContext{
		logLevel:   logLevel,
		logFormat:  logFormat,
		jsonOutput: jsonOutput,
	}
}

// ensureConfig loads the config file named by the first argument, parsing
// the sections the command consumes.
func (c *commandContext) ensureConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	if c.config != nil {
		return c.config, nil
	}
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return nil, services.Wrap(services.ErrConfiguration, cmd.Name(), "", "a config file path is required", nil)
	}
	cfg, err := config.Load(args[0], commandSections(cmd.Name())...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, cmd.Name(), "load config", "", err)
	}
	c.config = cfg
	return cfg, nil
}

func (c *commandContext) configValue() *config.Config {
	return c.config
}

// commandSections lists the sections a pipeline command parses. Prep reads
// every section to find the one the dataset is for.
func commandSections(command string) []string {
	section, ok := config.CommandSection(command)
	if !ok || section == config.SectionPrep {
		return nil
	}
	return []string{
		config.SectionSpectParams,
		config.SectionDataLoader,
		config.SectionRunner,
		config.SectionPrep,
		section,
	}
}

func (c *commandContext) loggerFor(cmd *cobra.Command) (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		opts := logging.Options{Writer: cmd.ErrOrStderr()}
		if c.logLevel != nil {
			opts.Level = *c.logLevel
		}
		if c.logFormat != nil {
			opts.Format = *c.logFormat
		}
		c.logger, c.loggerErr = logging.New(opts)
	})
	return c.logger, c.loggerErr
}

func (c *commandContext) wantJSON() bool {
	return c.jsonOutput != nil && *c.jsonOutput
}

// newEngine builds an engine for the loaded config. Progress bars are drawn
// only when stderr is a terminal and the log format is for humans.
func (c *commandContext) newEngine(cmd *cobra.Command) (*engine.Engine, error) {
	cfg := c.configValue()
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	logger, err := c.loggerFor(cmd)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	var opts []engine.Option
	if c.showProgress() {
		opts = append(opts, engine.WithProgress(os.Stderr))
	}
	return engine.New(cfg, logger, opts...)
}

func (c *commandContext) showProgress() bool {
	if c.logFormat != nil && strings.EqualFold(strings.TrimSpace(*c.logFormat), "json") {
		return false
	}
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
