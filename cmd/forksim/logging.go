package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log.json",
		Usage: "Format logs with JSON",
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "Also write logs to this file, rotated by size",
	}

	logFlags = []cli.Flag{
		verbosityFlag,
		logJSONFlag,
		logFileFlag,
	}
)

// logRotator is closed on shutdown when file logging is on.
var logRotator *lumberjack.Logger

func setupLogging(ctx *cli.Context) error {
	var (
		output   io.Writer = os.Stderr
		useColor           = (isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())) && os.Getenv("TERM") != "dumb"
	)
	if useColor {
		output = colorable.NewColorableStderr()
	}
	if file := ctx.String(logFileFlag.Name); file != "" {
		logRotator = &lumberjack.Logger{
			Filename:   file,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		output = io.MultiWriter(output, logRotator)
		useColor = false
	}

	level := log.FromLegacyLevel(ctx.Int(verbosityFlag.Name))
	var handler slog.Handler
	if ctx.Bool(logJSONFlag.Name) {
		handler = log.JSONHandlerWithLevel(output, level)
	} else {
		handler = log.NewTerminalHandlerWithLevel(output, level, useColor)
	}
	log.SetDefault(log.NewLogger(handler))
	return nil
}

func closeLogging() {
	if logRotator != nil {
		logRotator.Close()
	}
}
