package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"

	"saldo/internal/admin"
	"saldo/internal/cli"
	"saldo/internal/log"
)

func main() {
	cli.LoadEnvFile()

	// Reports go to stdout, logs to stderr.
	logCfg := log.DefaultConfig()
	logCfg.Level = log.ParseLevel(os.Getenv("LOG_LEVEL"))
	logCfg.Output = os.Stderr
	log.SetDefault(log.New(logCfg))

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	for _, c := range admin.Commands(admin.OpenFromEnv, os.Stdout) {
		commander.Register(c, "ledger")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
