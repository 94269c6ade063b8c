package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guseggert/execserver/config"
	"github.com/guseggert/execserver/server"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// a .env file is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf("loading .env: %s", err)
	}

	app := &cli.App{
		Name:  "execserver",
		Usage: "an interactive code execution server that streams output over WebSockets",
		Commands: []*cli.Command{
			serveCommand(),
			runCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the execution server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file. Flags override its values.",
				EnvVars: []string{"EXECSERVER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "listen-addr",
				Usage:   "The address for the HTTP server to listen on.",
				EnvVars: []string{"EXECSERVER_LISTEN_ADDR"},
			},
			&cli.StringFlag{
				Name:    "interpreter",
				Usage:   "The interpreter that runs submitted source.",
				EnvVars: []string{"EXECSERVER_INTERPRETER"},
			},
			&cli.StringSliceFlag{
				Name:    "interpreter-arg",
				Usage:   "Argument passed to the interpreter before the source file. Repeatable.",
				EnvVars: []string{"EXECSERVER_INTERPRETER_ARGS"},
			},
			&cli.StringSliceFlag{
				Name:    "env",
				Usage:   "KEY=VALUE added to the environment of every execution. Repeatable, replaces the default PYTHONUNBUFFERED=1.",
				EnvVars: []string{"EXECSERVER_ENV"},
			},
			&cli.StringFlag{
				Name:    "file-suffix",
				Usage:   "Suffix of the ephemeral source files.",
				EnvVars: []string{"EXECSERVER_FILE_SUFFIX"},
			},
			&cli.StringFlag{
				Name:    "temp-dir",
				Usage:   "Directory for ephemeral source files. Defaults to the system temp dir.",
				EnvVars: []string{"EXECSERVER_TEMP_DIR"},
			},
			&cli.DurationFlag{
				Name:    "grace-period",
				Usage:   "How long a terminated process tree may take to exit before it is killed.",
				EnvVars: []string{"EXECSERVER_GRACE_PERIOD"},
			},
			&cli.StringSliceFlag{
				Name:    "allowed-origin",
				Usage:   "Origin host pattern allowed to connect from a browser. Repeatable.",
				EnvVars: []string{"EXECSERVER_ALLOWED_ORIGINS"},
			},
			&cli.Int64Flag{
				Name:    "max-message-bytes",
				Usage:   "The largest inbound message a session accepts.",
				EnvVars: []string{"EXECSERVER_MAX_MESSAGE_BYTES"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Minimum log level. One of [debug,info,warn,error].",
				Value:   "info",
				EnvVars: []string{"EXECSERVER_LOG_LEVEL"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg := config.Default()
			if path := ctx.String("config"); path != "" {
				var err error
				cfg, err = config.Load(path)
				if err != nil {
					return err
				}
			}
			if ctx.IsSet("listen-addr") {
				cfg.ListenAddr = ctx.String("listen-addr")
			}
			if ctx.IsSet("interpreter") {
				cfg.Interpreter = ctx.String("interpreter")
			}
			if ctx.IsSet("interpreter-arg") {
				cfg.InterpreterArgs = ctx.StringSlice("interpreter-arg")
			}
			if ctx.IsSet("env") {
				cfg.Env = ctx.StringSlice("env")
			}
			if ctx.IsSet("file-suffix") {
				cfg.FileSuffix = ctx.String("file-suffix")
			}
			if ctx.IsSet("temp-dir") {
				cfg.TempDir = ctx.String("temp-dir")
			}
			if ctx.IsSet("grace-period") {
				cfg.GracePeriod = ctx.Duration("grace-period")
			}
			if ctx.IsSet("allowed-origin") {
				cfg.AllowedOrigins = ctx.StringSlice("allowed-origin")
			}
			if ctx.IsSet("max-message-bytes") {
				cfg.MaxMessageBytes = ctx.Int64("max-message-bytes")
			}

			level, err := zapcore.ParseLevel(ctx.String("log-level"))
			if err != nil {
				return fmt.Errorf("parsing log level: %w", err)
			}

			srv, err := server.New(cfg, server.WithLogLevel(level))
			if err != nil {
				return fmt.Errorf("building server: %w", err)
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			go func() {
				<-sigs
				if err := srv.Stop(); err != nil {
					log.Printf("error stopping server: %s", err)
				}
			}()

			return srv.Run()
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "execute a source file on a server and print its output",
		ArgsUsage: "<file>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "The host:port of the server.",
				Value:   "127.0.0.1:8000",
				EnvVars: []string{"EXECSERVER_ADDR"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up if the server is not reachable within this duration.",
				Value: 10 * time.Second,
			},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() != 1 {
				return cli.ShowSubcommandHelp(ctx)
			}
			source, err := os.ReadFile(ctx.Args().First())
			if err != nil {
				return fmt.Errorf("reading source: %w", err)
			}

			logger, err := zap.NewDevelopment(zap.IncreaseLevel(zapcore.WarnLevel))
			if err != nil {
				return fmt.Errorf("building logger: %w", err)
			}
			client := server.NewClient(logger.Sugar(), ctx.String("addr"))

			waitCtx, cancel := context.WithTimeout(ctx.Context, ctx.Duration("timeout"))
			defer cancel()
			err = client.WaitForServer(waitCtx)
			if err != nil {
				return fmt.Errorf("waiting for server: %w", err)
			}

			runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt)
			defer stop()
			conn, err := client.Connect(runCtx)
			if err != nil {
				return err
			}
			defer conn.Close()

			return conn.Run(runCtx, string(source), os.Stdout)
		},
	}
}
