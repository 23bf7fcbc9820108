package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HerbHall/gatesync/internal/backup"
	"github.com/HerbHall/gatesync/internal/config"
)

func runBackup(args []string) {
	fs := flag.NewFlagSet("backup", flag.ExitOnError)
	output := fs.String("output", "", "output file path (default: gatesync-backup-{timestamp}.tar.gz)")
	configFile := fs.String("config", "", "path to config file; it is included in the backup")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}

	if *output == "" {
		*output = fmt.Sprintf("gatesync-backup-%s.tar.gz", time.Now().Format("20060102-150405"))
	}

	if err := backup.Backup(context.Background(), cfg.DatabasePath(), cfg.ConfigFile(), *output); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Backup created: %s\n", *output)
}
