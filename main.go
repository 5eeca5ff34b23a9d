package main

import (
	"context"
	"log"
	"os"

	"github.com/epublic/epublib/cli"
	"github.com/epublic/epublib/server"
)

// Default configuration for the CLI
var config = &cli.DefaultConfig

func serve() {
	app, err := cli.OpenApp(context.Background(), config)
	if err != nil {
		log.Fatalln(err)
	}
	defer app.Close()

	srv := server.New(app.Library, app.Engine, app.Rebuild)
	if err := srv.ServeStdio(); err != nil {
		log.Fatalf("server error: %v\n", err)
	}
}

func main() {
	log.SetPrefix("[epublib]: ")
	log.SetFlags(log.Lshortfile)

	// Parse the command line arguments
	ctx := cli.DefineFlags(config, serve)
	subcmd, err := ctx.Parse(os.Args)
	if err != nil {
		log.Fatalln(err)
	}

	// If the subcommand is nil, print the usage and exit
	if subcmd == nil {
		ctx.PrintUsage(os.Stdout)
		os.Exit(1)
	}

	// Run the subcommand
	subcmd.Handler()
}
