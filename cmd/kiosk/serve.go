package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"not-you-kiosk/internal/appstate"
	"not-you-kiosk/internal/archive"
	"not-you-kiosk/internal/config"
	"not-you-kiosk/internal/coordinator"
	"not-you-kiosk/internal/demographics"
	"not-you-kiosk/internal/generation"
	"not-you-kiosk/internal/healthcheck"
	"not-you-kiosk/internal/httpclient"
	"not-you-kiosk/internal/sdapi"
	"not-you-kiosk/internal/telegram"
	"not-you-kiosk/internal/ui"
	"not-you-kiosk/internal/web"
)

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the kiosk: web UI, generation workers and health checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg, flags)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, &logger)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger *zerolog.Logger) error {
	logger.Info().
		Str("api", cfg.API.BaseURL).
		Str("config_file", cfg.File).
		Int("fields", len(cfg.Schema.FieldIDs())).
		Msg("kiosk starting")

	httpClient := httpclient.New(httpclient.Options{
		PreferIPv4: cfg.PreferIPv4,
		Timeout:    cfg.API.Timeout,
		Username:   cfg.API.Username,
		Password:   cfg.API.Password,
	})
	api := sdapi.New(sdapi.Options{
		BaseURL:    cfg.API.BaseURL,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	gen := generation.New(generation.Options{
		API: api,
		Params: generation.Params{
			NegativePrompt: cfg.Generator.NegativePrompt,
			Steps:          cfg.Generator.Steps,
			CFGScale:       cfg.Generator.CFGScale,
			Sampler:        cfg.Generator.Sampler,
			Width:          cfg.Generator.Width,
			Height:         cfg.Generator.Height,
		},
		MaxRetries:     cfg.API.MaxRetries,
		RetryDelay:     cfg.API.RetryDelay,
		RequestTimeout: cfg.API.Timeout,
		Workers:        cfg.GenerationWorkers,
		QueueSize:      cfg.GenerationQueue,
		Logger:         logger,
	})

	seed := cfg.Generator.Seed
	state := appstate.New(appstate.Options{Logger: logger, Seed: &seed})
	mapper := demographics.NewMapper(demographics.MapperOptions{
		Schema: cfg.Schema,
		Prefix: cfg.PromptPrefix,
		Suffix: cfg.PromptSuffix,
	})
	logger.Debug().Str("prefix", mapper.Prefix()).Str("suffix", mapper.Suffix()).Msg("prompt template")

	var publisher coordinator.Publisher
	var gallery *telegram.Gallery
	if cfg.TelegramEnabled() {
		g, err := telegram.New(telegram.Options{
			Token:  cfg.TelegramToken,
			ChatID: cfg.TelegramChatID,
			Debug:  cfg.Debug,
			Logger: logger,
		})
		if err != nil {
			logger.Error().Err(err).Msg("telegram gallery disabled")
		} else {
			gallery = g
			publisher = g
		}
	}

	coord, err := coordinator.New(coordinator.Options{
		State:     state,
		Mapper:    mapper,
		Generator: gen,
		Debounce:  cfg.FormDebounce,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		gen.Close()
		return err
	}
	defer coord.Close()

	store, err := archive.New(archive.Options{
		Dir:       cfg.ArchiveDir,
		MaxImages: cfg.MaxArchived,
		Logger:    logger,
	})
	if err != nil {
		logger.Warn().Err(err).Str("dir", cfg.ArchiveDir).Msg("archive disabled")
	}

	loop := ui.NewLoop(ui.LoopOptions{Logger: logger})
	views := web.NewViews()

	form, err := ui.NewFormPanel(ui.FormPanelOptions{
		State:  state,
		Mapper: mapper,
		View:   views,
		Logger: logger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("form panel failed")
		ui.NewErrorView("form", err).Render(views)
	}

	imageOpts := ui.ImagePanelOptions{
		State:      state,
		View:       views,
		Scheduler:  loop,
		Remix:      coord.Remix,
		Regenerate: coord.Regenerate,
		Logger:     logger,
	}
	if store != nil {
		imageOpts.Archive = store
	}
	image, err := ui.NewImagePanel(imageOpts)
	if err != nil {
		logger.Error().Err(err).Msg("image panel failed")
		ui.NewErrorView("image", err).Render(views)
	} else {
		defer image.Close()
	}

	checker, err := healthcheck.New(healthcheck.Options{
		Prober:   gen,
		Schedule: cfg.HealthcheckSchedule,
		State:    state,
		Timeout:  cfg.API.Timeout,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	webOpts := web.Options{
		Addr:            cfg.WebAddr,
		Views:           views,
		State:           state,
		Scheduler:       loop,
		Form:            form,
		Image:           image,
		PlaceholderPath: cfg.PlaceholderImage,
		Service:         checker,
		Jobs:            gen,
		Changes:         coord,
		Logger:          logger,
	}
	if gallery != nil {
		webOpts.Gallery = gallery
	}
	if store != nil {
		webOpts.Archive = store
	}
	server := web.New(webOpts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return checker.Run(gctx) })
	if gallery != nil {
		g.Go(func() error { return gallery.Run(gctx) })
	}

	err = g.Wait()
	logger.Info().Interface("state", state.Summary()).Msg("kiosk stopped")
	return err
}
