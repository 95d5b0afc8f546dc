package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/ruteri/identity-sdk/cmd/flags"
	"github.com/ruteri/identity-sdk/gateway/gatewaytest"
	"github.com/ruteri/identity-sdk/httpserver"
)

var cliFlags = append(append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for the gateway API",
	},
}, flags.CommonFlags...), flags.ServerFlags...)

func main() {
	app := &cli.App{
		Name:  "gateway-sim",
		Usage: "Serve an in-memory member gateway for local development",
		Flags: cliFlags,
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String("listen-addr")

			logger := flags.SetupLogger(cCtx, "gateway-sim")
			cfg := flags.ConfigureServer(cCtx, logger, listenAddr)

			backend := gatewaytest.NewBackend()
			logger.Info("Gateway backend initialized", "platform_member", backend.PlatformID())

			server, err := httpserver.New(cfg, gatewaytest.Routes(backend))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
