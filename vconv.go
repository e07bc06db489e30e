// Copyright 2020-2022 The OS-NVR Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package vconv

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"vconv/pkg/convert"
	"vconv/pkg/ffmpeg"
	"vconv/pkg/history"
	"vconv/pkg/log"
	"vconv/pkg/storage"
	"vconv/pkg/system"
	"vconv/pkg/verify"
)

// Set with -ldflags.
var (
	Version = "dev"
	Commit  = ""
)

// ffmpeg is only asked for errors, they are
// kept for the transcoder failure note.
const ffmpegLogLevel = "error"

// Run parses os.Args and runs the command.
func Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return newCommand().Run(ctx, os.Args)
}

// App is the main application struct.
type App struct {
	WG     *sync.WaitGroup
	Logger *log.Logger
	Env    storage.ConfigEnv

	logDB     *log.DB
	history   *history.DB
	verifier  *verify.Verifier
	ffmpeg    *ffmpeg.FFMPEG
	system    *system.System
	converter *convert.Converter
}

func newApp(envPath string, wg *sync.WaitGroup) (*App, error) {
	env, err := storage.LoadConfigEnv(envPath)
	if err != nil {
		return nil, fmt.Errorf("could not get environment config: %w", err)
	}

	logger := log.NewLogger(wg)

	ffmpegOpts := ffmpeg.Options{
		InputArgs:        ffmpeg.ParseArgs(env.FFmpegInputOpts),
		InterruptTimeout: env.InterruptTimeout,
	}
	ffmpegLog := func(msg string) {
		logger.FFmpegLevel(ffmpegLogLevel).Src("ffmpeg").Msg(msg)
	}

	return &App{
		WG:       wg,
		Logger:   logger,
		Env:      *env,
		logDB:    log.NewDB(env.LogDB, wg),
		history:  history.NewDB(env.HistoryDB, wg),
		verifier: verify.NewVerifier(ffmpeg.NewDescriber(env.IntrospectBin, env.IntrospectArgs, env.IntrospectTimeout)),
		ffmpeg:   ffmpeg.New(env.FFmpegBin, ffmpegLogLevel, ffmpegOpts, ffmpegLog),
		system:   system.New(),
	}, nil
}

// run starts the logger and opens the databases. Everything
// is stopped when ctx is canceled, wait on app.WG.
func (app *App) run(ctx context.Context, logOutput io.Writer) {
	app.Logger.Start(ctx)

	// Validated by NewConfigEnv.
	level, _ := log.ParseLevel(app.Env.LogLevel)
	go app.Logger.LogToWriter(ctx, logOutput, level)

	if err := app.logDB.Init(ctx); err != nil {
		// Continue even if log database is corrupt.
		time.Sleep(10 * time.Millisecond)
		app.Logger.Error().Src("app").Msgf("could not initialize log database: %v", err)
	} else {
		go app.logDB.SaveLogs(ctx, app.Logger)
		time.Sleep(10 * time.Millisecond)
	}

	var recorder convert.Recorder
	if err := app.history.Init(ctx); err != nil {
		app.Logger.Error().Src("app").Msgf("could not initialize history database: %v", err)
	} else {
		recorder = app.history
	}

	app.converter = convert.NewConverter(
		convert.NewConfig(app.Env),
		app.Logger,
		app.ffmpeg,
		app.verifier,
		recorder,
	)
}

// withApp loads the environment config, starts the app and
// calls fn. The app is stopped when fn returns.
func withApp(ctx context.Context, envFlag string, logOutput io.Writer, fn func(context.Context, *App) error) error {
	envPath, err := filepath.Abs(envFlag)
	if err != nil {
		return fmt.Errorf("could not get absolute path of env.yaml: %w", err)
	}

	wg := &sync.WaitGroup{}
	app, err := newApp(envPath, wg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		wg.Wait()
	}()

	app.run(ctx, logOutput)
	return fn(ctx, app)
}
