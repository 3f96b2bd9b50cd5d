package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/m3rciful/privybot/core/bootstrap"
	"github.com/m3rciful/privybot/core/buildinfo"
	corecmd "github.com/m3rciful/privybot/core/cmd"
	coreconfig "github.com/m3rciful/privybot/core/config"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML config (default: $CONFIG_PATH)")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the config")
	version := pflag.BoolP("version", "v", false, "print the build version and exit")
	pflag.Parse()

	if *version {
		fmt.Println(buildinfo.String())
		return
	}

	err := corecmd.Run(corecmd.Options{
		ConfigPath: *configPath,
		EnvFile:    *envFile,
		LoadConfig: coreconfig.Load,
		Bootstrap: func(ctx context.Context, cfg *coreconfig.Config) (corecmd.App, error) {
			res, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg})
			if err != nil {
				return nil, err
			}
			app, err := bootstrap.NewApp(cfg, res.Store, res.Transcripts)
			if err != nil {
				_ = res.Store.Close()
				return nil, err
			}
			return app, nil
		},
	})
	if err != nil {
		log.Printf("privybot: %v", err)
		os.Exit(1)
	}
}
