package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blukai/coopparty/internal/config"
	"github.com/blukai/coopparty/internal/coopclient"
	"github.com/blukai/coopparty/internal/coopsession"
	"github.com/blukai/coopparty/internal/game"
	"github.com/blukai/coopparty/internal/metrics"
	"github.com/blukai/coopparty/internal/protocol"
	"github.com/blukai/coopparty/internal/roomcode"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

func joinCmd() *cobra.Command {
	var (
		addr string
		port uint16
		code string
	)

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a hosted session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd.Context(), addr, port, code)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "host address")
	cmd.Flags().Uint16VarP(&port, "port", "p", config.DefaultPort, "host port")
	cmd.Flags().StringVarP(&code, "code", "c", "", "room code read out by the host")
	_ = cmd.MarkFlagRequired("addr")

	return cmd
}

func runJoin(ctx context.Context, addr string, port uint16, code string) error {
	if code != "" {
		code = roomcode.Normalize(code)
		if err := roomcode.Validate(code); err != nil {
			return err
		}
	}

	e, err := loadEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	world := game.NewMirror()
	client := coopclient.New(e.config, world,
		coopclient.WithLogger(e.logger),
		coopclient.WithMetrics(metrics.New(e.registry, "client")),
		coopclient.WithEventHandler(func(ev protocol.Event) {
			e.logger.Info().Uint8("kind", ev.Kind).Msg("event from host")
		}),
	)

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("joining %s:%d", addr, port))
	if err := client.Connect(ctx, addr, port); err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success("joined")

	if code != "" {
		printBanner("joined", fmt.Sprintf("room code  %s", code))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	session := coopsession.NewClient(client, world, coopsession.WithLogger(e.logger))

	// the demo stick goes round in circles, running half of the time
	var elapsed time.Duration
	return e.run(ctx, session, func(dt time.Duration) {
		if !client.Connected() {
			cancel()
			return
		}

		elapsed += dt
		t := elapsed.Seconds()
		world.SetController(game.CoopInput{
			MoveX: float32(math.Cos(t)),
			MoveY: float32(math.Sin(t)),
			Run:   int(t)%4 < 2,
		})
	})
}
