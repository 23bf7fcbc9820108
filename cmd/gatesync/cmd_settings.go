package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/HerbHall/gatesync/internal/config"
	"github.com/HerbHall/gatesync/internal/services"
	"github.com/HerbHall/gatesync/internal/settings"
	"github.com/HerbHall/gatesync/internal/store"
)

const settingsUsage = "usage: gatesync settings export|import [-config path] [-file path]"

func runSettings(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, settingsUsage)
		os.Exit(2)
	}
	action := args[0]

	fs := flag.NewFlagSet("settings "+action, flag.ExitOnError)
	configFile := fs.String("config", "", "path to configuration file")
	file := fs.String("file", "-", "YAML file to write or read; - for stdout/stdin")
	if err := fs.Parse(args[1:]); err != nil {
		os.Exit(1)
	}

	if err := settingsCommand(context.Background(), action, *configFile, *file); err != nil {
		fmt.Fprintf(os.Stderr, "settings %s failed: %v\n", action, err)
		os.Exit(1)
	}
}

func settingsCommand(ctx context.Context, action, configFile, file string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	db, err := store.New(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()
	repo, err := services.NewSQLiteSettingsRepository(ctx, db)
	if err != nil {
		return err
	}

	switch action {
	case "export":
		var w io.Writer = os.Stdout
		if file != "-" {
			f, err := os.Create(file)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return settings.Export(ctx, repo, w)
	case "import":
		var r io.Reader = os.Stdin
		if file != "-" {
			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()
			r = f
		}
		n, err := settings.Import(ctx, repo, r)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "imported %d settings\n", n)
		return nil
	default:
		return fmt.Errorf("unknown action %q (%s)", action, settingsUsage)
	}
}
