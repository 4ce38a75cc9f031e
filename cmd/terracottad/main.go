// Command terracottad is the Terracotta daemon: it brings up the HTTP
// facade and drives the controller FSM into hosting or guesting a session
// depending on the subcommand invoked.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"terracotta/internal/config"
	"terracotta/internal/controller"
	"terracotta/internal/httpapi"
	"terracotta/internal/logging"
	"terracotta/internal/machineid"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "terracottad",
		Short: "Terracotta LAN-bridging daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to terracotta.yaml (defaults to ~/.terracotta/terracotta.yaml)")

	root.AddCommand(serveCmd(), hostCmd(), guestCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (controller.Config, int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return controller.Config{}, 0, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return controller.Config{}, 0, err
	}

	id, err := machineid.Load(cfg.DataDir)
	if err != nil {
		return controller.Config{}, 0, err
	}

	return controller.Config{
		MOTD:       cfg.MOTD,
		PlayerName: cfg.PlayerName,
		CorePath:   cfg.CorePath,
		CliPath:    cfg.CliPath,
		DataDir:    cfg.DataDir,
		MachineID:  id,
	}, cfg.HTTPPort, nil
}

func serveCmd() *cobra.Command {
	var httpPort int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bring up the HTTP facade, waiting for a host/guest transition",
		RunE: func(cmd *cobra.Command, args []string) error {
			ccfg, defaultPort, err := loadConfig()
			if err != nil {
				return err
			}
			if httpPort == 0 {
				httpPort = defaultPort
			}

			cell := controller.NewCell()
			server := httpapi.New(cell, ccfg)

			logging.Info("Main", "Listening on :%d", httpPort)
			return http.ListenAndServe(fmt.Sprintf(":%d", httpPort), server.Handler())
		},
	}
	cmd.Flags().IntVar(&httpPort, "http-port", 0, "HTTP facade port (overrides config)")
	return cmd
}

func hostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Scan for a local server and host it for others to join",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			cell := controller.NewCell()
			if !controller.SetScanning(cell, cfg) {
				return fmt.Errorf("cannot start scanning")
			}

			select {}
		},
	}
	return cmd
}

func guestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guest [room code]",
		Short: "Join a hosted room by its code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			cell := controller.NewCell()
			if !controller.SetGuesting(cell, args[0], cfg) {
				return fmt.Errorf("cannot parse or join room %q", args[0])
			}

			select {}
		},
	}
	return cmd
}
