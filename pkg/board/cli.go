package board

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/railboard/railboard/pkg/config"
	"github.com/railboard/railboard/pkg/display"
	"github.com/railboard/railboard/pkg/fontmetrics"
	"github.com/railboard/railboard/pkg/railapi"
	"github.com/railboard/railboard/pkg/render"
	"github.com/railboard/railboard/pkg/servicecache"
	"github.com/railboard/railboard/pkg/statusapi"
)

func RegisterCLI() *cli.Command {
	return &cli.Command{
		Name:  "board",
		Usage: "Drives the departure board",
		Subcommands: []*cli.Command{
			{
				Name:  "run",
				Usage: "fetch departures and render the board",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "config",
						Usage: "path to the YAML config file",
					},
					&cli.StringFlag{
						Name:  "crs",
						Usage: "station code override",
					},
					&cli.StringFlag{
						Name:  "platform",
						Usage: "only show services from this platform",
					},
					&cli.BoolFlag{
						Name:  "terminal",
						Usage: "render to the terminal instead of a headless buffer",
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					if crs := c.String("crs"); crs != "" {
						cfg.Station.CRS = crs
					}
					if platform := c.String("platform"); platform != "" {
						cfg.Station.Platform = platform
					}

					return run(cfg, c.Bool("terminal"))
				},
			},
		},
	}
}

func run(cfg config.Config, terminal bool) error {
	width := cfg.Matrix.Cols * cfg.Matrix.Chained
	var canvas display.Canvas
	if terminal {
		canvas = display.NewTerminal(os.Stdout, width, cfg.Matrix.Rows)
	} else {
		canvas = display.NewMemory(width, cfg.Matrix.Rows)
	}

	font, err := loadFont(cfg.Matrix.FontPath)
	if err != nil {
		return err
	}
	measurer := fontmetrics.NewMeasurer(font)

	scheduler := render.NewScheduler(canvas, measurer, render.Options{
		TopToggleInterval: cfg.Display.ETDToggleInterval,
		ThirdRowInterval:  cfg.Display.ThirdRowInterval,
		MessageInterval:   cfg.Display.MessageInterval,
		SlideThirdRow:     cfg.Display.SlideThirdRow,
		CallingAtPrefix:   cfg.Display.ShowCallingAt,
	})

	client := railapi.NewClient(cfg.API.BaseURL, cfg.API.Key,
		railapi.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		railapi.WithMaxRetries(cfg.API.MaxRetries),
		railapi.WithDebugDump(cfg.API.DebugDumpTo))

	cache := servicecache.New(cfg.Station.MaxServices)
	b := New(cfg, cache, client, scheduler)

	if cfg.Status.Enabled {
		server := statusapi.NewServer(cache, b.RenderState)
		go func() {
			if err := server.Listen(cfg.Status.Listen); err != nil {
				log.Error().Err(err).Msg("Status server stopped")
			}
		}()
		defer server.Shutdown()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("crs", cfg.Station.CRS).
		Str("platform", cfg.Station.Platform).
		Msg("Starting departure board")
	return b.Run(ctx)
}

func loadFont(path string) (*fontmetrics.Font, error) {
	if path == "" {
		return fontmetrics.MonoFont(4, 6, 5), nil
	}
	return fontmetrics.LoadBDF(path)
}
