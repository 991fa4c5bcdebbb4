package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blukai/coopparty/internal/coophost"
	"github.com/blukai/coopparty/internal/coopsession"
	"github.com/blukai/coopparty/internal/game"
	"github.com/blukai/coopparty/internal/metrics"
	"github.com/blukai/coopparty/internal/protocol"
	"github.com/spf13/cobra"
)

func hostCmd() *cobra.Command {
	var port uint16

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Host a session and wait for a partner",
		Long: `Host a session. The room code and address are printed once the host is
listening; share them with the player who joins.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHost(cmd.Context(), port, cmd.Flags().Changed("port"))
		},
	}

	cmd.Flags().Uint16VarP(&port, "port", "p", 0, "port to listen on (default $COOP_PORT)")

	return cmd
}

func runHost(ctx context.Context, port uint16, portSet bool) error {
	e, err := loadEnv()
	if err != nil {
		return err
	}
	if !portSet {
		port = e.config.Port
	}

	world := game.NewMirror()
	host := coophost.New(e.config, world,
		coophost.WithLogger(e.logger),
		coophost.WithMetrics(metrics.New(e.registry, "host")),
		coophost.WithEventHandler(func(ev protocol.Event) {
			e.logger.Info().Uint8("kind", ev.Kind).Msg("event from client")
		}),
	)
	if err := host.Start(port); err != nil {
		return err
	}

	printHosting(host)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	session := coopsession.NewHost(host, world, coopsession.WithLogger(e.logger))

	// leon walks a slow circle so the client has something to watch
	var elapsed time.Duration
	return e.run(ctx, session, func(dt time.Duration) {
		// the client left, open the room again
		if host.State() == coophost.StateStopped {
			if err := host.Start(port); err != nil {
				e.logger.Error().Err(err).Msg("could not host again")
				return
			}
			printHosting(host)
		}

		elapsed += dt
		t := elapsed.Seconds()

		leon := world.ReadLocalEntityState(game.Leon)
		leon.Position = game.Vec3{X: float32(200 * math.Cos(t/4)), Z: float32(200 * math.Sin(t/4))}
		leon.Rotation = float32(t / 4)
		world.SetLocalEntityState(game.Leon, leon)

		world.Step(dt.Seconds())
	})
}

func printHosting(host *coophost.Host) {
	printBanner("hosting",
		fmt.Sprintf("room code  %s", host.RoomCode()),
		fmt.Sprintf("address    %s:%d", host.LocalIP(), host.Addr().Port),
	)
}
