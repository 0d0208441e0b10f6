package main

import (
	"fmt"
	"os"
	"sort"

	"statwindow/internal/core/domain"
	"statwindow/internal/infrastructure/backup"
	"statwindow/pkg/config"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"
)

func createCliApp() *cli.App {
	return &cli.App{
		Name:     AppName,
		Version:  AppVersion,
		Usage:    AppDesc,
		Flags:    createCliFlags(),
		Action:   runApp,
		Commands: createCommands(),
	}
}

func createCliFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Value:   "configs/config.yaml",
			Usage:   "path to the YAML configuration file",
			EnvVars: []string{"STATWINDOW_CONFIG"},
		},
		&cli.DurationFlag{
			Name:    "interval",
			Aliases: []string{"i"},
			Usage:   "polling interval, overrides polling.interval (e.g. 500ms)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "debug, info, warn or error; overrides logging.level",
		},
		&cli.StringFlag{
			Name:  "listen",
			Usage: "HTTP listen address, overrides server.address",
		},
		&cli.BoolFlag{
			Name:  "no-server",
			Usage: "poll and log only, without the HTTP API and push endpoint",
		},
		&cli.DurationFlag{
			Name:    "duration",
			Aliases: []string{"d"},
			Usage:   "stop after this long; 0 runs until interrupted",
		},
		&cli.BoolFlag{
			Name:  "audio",
			Value: true,
			Usage: "send an audio track through the loopback",
		},
		&cli.BoolFlag{
			Name:  "video",
			Value: true,
			Usage: "send a video track through the loopback",
		},
	}
}

func createCommands() []*cli.Command {
	return []*cli.Command{
		{
			Name:  "config",
			Usage: "print the effective configuration as YAML",
			Action: func(c *cli.Context) error {
				cfg, err := loadConfig(c)
				if err != nil {
					return cli.Exit(err.Error(), 1)
				}
				out, err := yaml.Marshal(cfg)
				if err != nil {
					return cli.Exit(fmt.Sprintf("failed to encode configuration: %v", err), 1)
				}
				_, err = os.Stdout.Write(out)
				return err
			},
		},
		{
			Name:      "snapshots",
			Usage:     "list saved session snapshots, or show one",
			ArgsUsage: "[name]",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "list", Aliases: []string{"l"}, Usage: "only list snapshot names"},
			},
			Action: showSnapshots,
		},
		{
			Name:    "version",
			Aliases: []string{"v"},
			Usage:   "print version information",
			Action: func(c *cli.Context) error {
				fmt.Printf("%s v%s\n", AppName, AppVersion)
				return nil
			},
		},
	}
}

// loadConfig reads the configuration file and applies flag overrides on top.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	if c.IsSet("interval") {
		cfg.Polling.Interval = c.Duration("interval")
	}
	if c.IsSet("log-level") {
		cfg.Logging.Level = c.String("log-level")
	}
	if c.IsSet("listen") {
		cfg.Server.Address = c.String("listen")
	}
	if c.Bool("no-server") {
		cfg.Server.Enabled = false
		cfg.Push.Enabled = false
	}
	if c.IsSet("audio") {
		cfg.WebRTC.Audio = c.Bool("audio")
	}
	if c.IsSet("video") {
		cfg.WebRTC.Video = c.Bool("video")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// showSnapshots prints snapshot names, or the summaries of one snapshot
// (the newest when no name is given).
func showSnapshots(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	service, err := snapshotService(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.Bool("list") {
		names, err := service.List(c.Context)
		if err != nil {
			return cli.Exit(fmt.Sprintf("failed to list snapshots: %v", err), 1)
		}
		for _, name := range names {
			fmt.Fprintln(c.App.Writer, name)
		}
		return nil
	}

	snap, session, err := backup.Load(c.Context, service, c.Args().First())
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	fmt.Fprintf(c.App.Writer, "session %s at %s (v%s)\n",
		session.SessionID, snap.Timestamp.Format("2006-01-02 15:04:05"), snap.Version)
	keys := make([]domain.MetricKey, 0, len(session.Metrics))
	for key := range session.Metrics {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		m := session.Metrics[key]
		fmt.Fprintf(c.App.Writer, "  %-28s %4d samples  %s\n", key, len(m.Samples), m.Display)
	}
	return nil
}
