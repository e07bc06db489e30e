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
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vconv/pkg/container"
	"vconv/pkg/convert"
	"vconv/pkg/history"
	"vconv/pkg/log"
	"vconv/pkg/storage"
	"vconv/pkg/verify"
	"vconv/pkg/watch"

	"github.com/gabriel-vasile/mimetype"
	"github.com/urfave/cli/v3"
)

// ErrUsage wrong number of arguments.
var ErrUsage = errors.New("usage")

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "vconv",
		Usage: "convert video files into AVI, M4V or MP4 containers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env",
				Usage: "path to env.yaml, a missing file uses the defaults",
				Value: "env.yaml",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			convertCmd(),
			batchCmd(),
			watchCmd(),
			verifyCmd(),
			inspectCmd(),
			historyCmd(),
			logsCmd(),
			versionCmd(),
		},
	}
}

// appAction returns an action that runs fn with a started app.
func appAction(fn func(context.Context, *App, *cli.Command) error) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		root := cmd.Root()
		return withApp(ctx, root.String("env"), root.ErrWriter, func(ctx context.Context, app *App) error {
			return fn(ctx, app, cmd)
		})
	}
}

func checkArgs(cmd *cli.Command, n int) error {
	if cmd.NArg() != n {
		return fmt.Errorf("%w: %v %v %v", ErrUsage, cmd.Root().Name, cmd.Name, cmd.ArgsUsage)
	}
	return nil
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "output format (avi, m4v, mp4)",
		Value:   string(convert.FormatAVI),
	}
}

func convertCmd() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert a file, the format is taken from the output extension",
		ArgsUsage: "INPUT OUTPUT",
		Action: appAction(func(ctx context.Context, app *App, cmd *cli.Command) error {
			if err := checkArgs(cmd, 2); err != nil {
				return err
			}
			result, err := app.converter.Convert(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
			fmt.Fprint(cmd.Root().Writer, formatResult(result))
			return err
		}),
	}
}

func formatResult(r *convert.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "status:   %v\n", r.Report.Status)
	if r.Artifact != "" {
		fmt.Fprintf(&b, "artifact: %v\n", r.Artifact)
		fmt.Fprintf(&b, "report:   %v\n", verify.ReportPath(r.Artifact))
	}
	fmt.Fprintf(&b, "valid:    %v\n", r.Report.Output.Valid)
	if r.Report.Method != "" {
		fmt.Fprintf(&b, "method:   %v\n", r.Report.Method)
	}
	for _, note := range r.Report.Notes {
		fmt.Fprintf(&b, "note:     %v\n", note)
	}
	return b.String()
}

func batchCmd() *cli.Command {
	return &cli.Command{
		Name:      "batch",
		Usage:     "Convert every media file in a directory that has no output yet",
		ArgsUsage: "DIR",
		Flags: []cli.Flag{
			formatFlag(),
			&cli.StringFlag{
				Name:  "out",
				Usage: "output directory, defaults to the directory of each input",
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "parallel conversions, defaults to workers in env.yaml or the CPU count",
			},
		},
		Action: appAction(func(ctx context.Context, app *App, cmd *cli.Command) error {
			if err := checkArgs(cmd, 1); err != nil {
				return err
			}
			format, err := convert.ParseFormat(cmd.String("format"))
			if err != nil {
				return err
			}
			jobs, err := convert.FindJobs(cmd.Args().First(), cmd.String("out"), format)
			if err != nil {
				return err
			}

			workers := app.Env.Workers
			if n := cmd.Int("workers"); n > 0 {
				workers = int(n)
			}
			// The input and the container are both held in memory.
			perWorker := 2 * uint64(convert.NewConfig(app.Env).PayloadCap(format))
			workers = app.system.Workers(workers, perWorker)

			if status, err := app.system.Status(ctx); err == nil {
				app.Logger.Info().Src("batch").Msgf("%v workers, cpu %v%%, ram %v%%",
					workers, status.CPUUsage, status.RAMUsage)
			}

			w := cmd.Root().Writer
			nJobs := len(jobs)
			fmt.Fprintf(w, "Found %v new files.\n", nJobs)

			failed := 0
			app.converter.Batch(ctx, jobs, workers, func(i int, r convert.BatchResult) {
				fmt.Fprintf(w, "[%v/%v]", i, nJobs)
				if r.Err != nil {
					failed++
					fmt.Fprintf(w, "[ERR] %v %v\n", r.Job.Input, r.Err)
					return
				}
				fmt.Fprintf(w, "[OK] %v %v\n", r.Result.Artifact, r.Result.Report.Status)
			})
			if failed != 0 {
				return fmt.Errorf("%v of %v conversions failed", failed, nJobs)
			}
			return ctx.Err()
		}),
	}
}

func watchCmd() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "Convert files as they are added to a directory",
		ArgsUsage: "DIR",
		Flags: []cli.Flag{
			formatFlag(),
			&cli.StringFlag{
				Name:  "out",
				Usage: "output directory, defaults to DIR/converted",
			},
			&cli.DurationFlag{
				Name:  "settle",
				Usage: "time a file must be unchanged before it is converted",
				Value: 500 * time.Millisecond,
			},
		},
		Action: appAction(func(ctx context.Context, app *App, cmd *cli.Command) error {
			if err := checkArgs(cmd, 1); err != nil {
				return err
			}
			format, err := convert.ParseFormat(cmd.String("format"))
			if err != nil {
				return err
			}
			dir := cmd.Args().First()
			outDir := cmd.String("out")
			if outDir == "" {
				outDir = filepath.Join(dir, "converted")
			}
			if filepath.Clean(outDir) == filepath.Clean(dir) {
				return fmt.Errorf("output directory must differ from %v", dir)
			}

			watcher, err := watch.New(dir, watch.Options{
				SettleDelay: cmd.Duration("settle"),
				Extensions:  convert.MediaExtensions,
			}, app.Logger)
			if err != nil {
				return err
			}
			go watcher.Start(ctx)

			w := cmd.Root().Writer
			fmt.Fprintf(w, "Watching %v, writing to %v\n", dir, outDir)
			for {
				select {
				case <-ctx.Done():
					return nil
				case path := <-watcher.Events():
					output := convert.OutputPath(path, outDir, format)
					result, err := app.converter.Convert(ctx, path, output)
					if err != nil {
						fmt.Fprintf(w, "[ERR] %v %v\n", path, err)
						continue
					}
					fmt.Fprintf(w, "[OK] %v %v\n", result.Artifact, result.Report.Status)
				}
			}
		}),
	}
}

func verifyCmd() *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "Check the container signature of a file",
		ArgsUsage: "FILE",
		Action: appAction(func(ctx context.Context, app *App, cmd *cli.Command) error {
			if err := checkArgs(cmd, 1); err != nil {
				return err
			}
			path := cmd.Args().First()
			format, err := convert.FormatFromPath(path)
			if err != nil {
				return err
			}

			outcome, err := app.verifier.Verify(ctx, format.Layout(), path)
			w := cmd.Root().Writer
			fmt.Fprint(w, formatOutcome(outcome))
			if mime, err := mimetype.DetectFile(path); err == nil {
				fmt.Fprintf(w, "mime:   %v\n", mime)
			}
			return err
		}),
	}
}

func formatOutcome(o verify.Outcome) string {
	var b strings.Builder
	fmt.Fprintf(&b, "status: %v\n", o.Status)
	fmt.Fprintf(&b, "valid:  %v\n", o.Valid)
	fmt.Fprintf(&b, "size:   %v\n", o.Size)
	for _, note := range o.Notes {
		fmt.Fprintf(&b, "note:   %v\n", note)
	}
	return b.String()
}

func inspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print the block tree of an AVI or ISO-BMFF file",
		ArgsUsage: "FILE",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := checkArgs(cmd, 1); err != nil {
				return err
			}
			data, err := os.ReadFile(cmd.Args().First())
			if err != nil {
				return err
			}
			return inspect(cmd.Root().Writer, data)
		},
	}
}

// inspect detects the container family from the signature.
func inspect(w io.Writer, data []byte) error {
	layout := container.ISOBMFF
	if container.RIFF.Valid(data) {
		layout = container.RIFF
	}
	fmt.Fprintln(w, layout.Family())
	return container.Walk(layout, data, func(n container.Node) error {
		_, err := fmt.Fprintln(w, formatNode(n))
		return err
	})
}

func formatNode(n container.Node) string {
	name := n.Tag.String()
	if n.Form != (container.Tag{}) {
		name += " '" + n.Form.String() + "'"
	}
	return fmt.Sprintf("%v%v offset=%v size=%v",
		strings.Repeat("  ", n.Depth+1), name, n.Offset, n.Declared)
}

func historyCmd() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent conversions, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "maximum number of reports",
				Value: 20,
			},
			&cli.StringSliceFlag{
				Name:  "status",
				Usage: "only reports with status (SUCCESS, PARTIAL, FAILED)",
			},
			&cli.TimestampFlag{
				Name:  "before",
				Usage: "only reports before time",
				Config: cli.TimestampConfig{
					Layouts: []string{time.RFC3339, time.DateOnly},
				},
			},
		},
		Action: appAction(func(ctx context.Context, app *App, cmd *cli.Command) error {
			q := history.Query{
				Before: cmd.Timestamp("before"),
				Limit:  int(cmd.Int("limit")),
			}
			for _, s := range cmd.StringSlice("status") {
				q.Statuses = append(q.Statuses, verify.Status(strings.ToUpper(s)))
			}

			reports, err := app.history.Query(q)
			if err != nil {
				return err
			}
			w := cmd.Root().Writer
			for _, r := range reports {
				fmt.Fprintln(w, formatReport(r))
			}
			return nil
		}),
	}
}

func formatReport(r verify.Report) string {
	return fmt.Sprintf("%v %v %v %v -> %v (%v)",
		r.Timestamp.Format(time.RFC3339),
		r.Status,
		r.ID,
		r.Input.Path,
		r.Output.Path,
		r.Method,
	)
}

func logsCmd() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Print stored logs, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "maximum number of logs",
				Value: 50,
			},
			&cli.StringSliceFlag{
				Name:  "level",
				Usage: "only logs with level (error, warning, info, debug)",
			},
			&cli.StringSliceFlag{
				Name:  "src",
				Usage: "only logs from source",
			},
			&cli.StringSliceFlag{
				Name:  "job",
				Usage: "only logs of conversion id",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			q := log.Query{
				Sources: cmd.StringSlice("src"),
				Jobs:    cmd.StringSlice("job"),
				Limit:   int(cmd.Int("limit")),
			}
			for _, s := range cmd.StringSlice("level") {
				level, err := log.ParseLevel(s)
				if err != nil {
					return err
				}
				q.Levels = append(q.Levels, level)
			}
			return queryLogs(ctx, cmd.Root().String("env"), cmd.Root().Writer, q)
		},
	}
}

func queryLogs(ctx context.Context, envFlag string, w io.Writer, q log.Query) error {
	envPath, err := filepath.Abs(envFlag)
	if err != nil {
		return err
	}
	env, err := storage.LoadConfigEnv(envPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	wg := &sync.WaitGroup{}
	defer func() {
		cancel()
		wg.Wait()
	}()

	logDB := log.NewDB(env.LogDB, wg)
	if err := logDB.Init(ctx); err != nil {
		return err
	}
	logs, err := logDB.Query(q)
	if err != nil {
		return err
	}
	for _, l := range logs {
		t := time.UnixMicro(int64(l.Time)).Format(time.RFC3339)
		fmt.Fprintln(w, t+" "+log.FormatLog(l))
	}
	return nil
}

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			w := cmd.Root().Writer
			fmt.Fprintf(w, "version: %v\n", Version)
			if Commit != "" {
				fmt.Fprintf(w, "commit:  %v\n", Commit)
			}
			return nil
		},
	}
}
