package main

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"onair.fm/tipjar/internal/app"
	"onair.fm/tipjar/internal/config"
)

type commandContext struct {
	// open builds the application; tests replace it with a memory-backed one.
	open func(ctx context.Context, cfg *config.Config) (*app.App, error)
	load func() (*config.Config, error)

	once sync.Once
	app  *app.App
	err  error
}

func newCommandContext() *commandContext {
	return &commandContext{open: app.New, load: config.Load}
}

func (c *commandContext) ensureApp(ctx context.Context) (*app.App, error) {
	c.once.Do(func() {
		cfg, err := c.load()
		if err != nil {
			c.err = err
			return
		}
		if level, err := log.ParseLevel(cfg.AppLogLevel); err == nil {
			log.SetLevel(level)
		}
		c.app, c.err = c.open(ctx, cfg)
	})
	return c.app, c.err
}

func (c *commandContext) close() {
	if c.app != nil {
		c.app.Close()
	}
}
