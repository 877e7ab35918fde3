package main

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/okian/courtside/internal/adapters/persist"
	"github.com/okian/courtside/internal/config"
	"github.com/okian/courtside/internal/i18n"
	"github.com/okian/courtside/pkg/logger"
)

type commandContext struct {
	configFlag *string
	langFlag   *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, langFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		langFlag:   langFlag,
	}
}

// ensureConfig loads configuration once and points logging at stderr so
// stdout stays clean for results.
func (c *commandContext) ensureConfig(ctx context.Context) (*config.Config, error) {
	c.configOnce.Do(func() {
		path := os.Getenv(config.EnvConfigPath)
		if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.LoadFile(ctx, path)
		if err != nil {
			c.configErr = err
			return
		}
		if c.langFlag != nil && *c.langFlag != "" {
			cfg.Language = i18n.Code(i18n.Match(*c.langFlag))
		}

		logger.SetOutput(os.Stderr)
		if err := logger.SetFormat(cfg.LogFormat); err != nil {
			_ = logger.SetFormat("text")
		}
		if err := logger.SetLevelString(cfg.LogLevel); err != nil {
			_ = logger.SetLevelString("info")
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) language() language.Tag {
	if c.config == nil {
		return language.English
	}
	return i18n.Match(c.config.Language)
}

// persister opens the configured history backend.
func (c *commandContext) persister(ctx context.Context) (persist.Persister, error) {
	cfg, err := c.ensureConfig(ctx)
	if err != nil {
		return nil, err
	}
	return persist.New(ctx, persist.Settings{
		Backend:     cfg.PersistBackend,
		SupabaseURL: cfg.SupabaseURL,
		SupabaseKey: cfg.SupabaseKey,
		SQLitePath:  cfg.HistoryDB,
	})
}

// localized is an error whose message is written for the user while the
// cause stays matchable.
type localized struct {
	msg   string
	cause error
}

func (e *localized) Error() string { return e.msg }
func (e *localized) Unwrap() error { return e.cause }

// userError converts a remote or session failure into the configured
// language. Cancellation passes through untouched.
func (c *commandContext) userError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) {
		return err
	}
	if i18n.KeyFor(err) == i18n.KeyGeneric {
		return err
	}
	return &localized{msg: i18n.Localize(err, c.language()), cause: err}
}
