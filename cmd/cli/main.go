package main

import (
	"context"
	"log"
	"os"

	"github.com/vaultsync/vaultsync/internal/buildinfo"
	"github.com/vaultsync/vaultsync/internal/cli"
	"github.com/vaultsync/vaultsync/internal/config"
)

func main() {
	buildinfo.PrintBuildData(os.Stdout)

	app, err := cli.NewApp(config.LoadConfig())
	if err != nil {
		log.Fatalf("%v", err)
	}
	app.Run(context.Background())
}
