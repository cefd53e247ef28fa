package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/optimizer"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/series"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/tseries"
	"github.com/GoSim-25-26J-441/prms-calibration/pkg/utils"
)

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "prmscal",
		Short:         "Run PRMS scenario ensembles and Monte-Carlo calibrations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&f.configPath, "config", "c", "", "job configuration file")
	pf.StringVar(&f.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	pf.StringVar(&f.logFormat, "log-format", "", "log format override (json, text)")
	pf.IntVarP(&f.workers, "workers", "j", 0, "maximum concurrent simulator runs (overrides max_workers)")

	root.AddCommand(newSeriesCmd(f), newCalibrateCmd(f), newReportCmd())
	return root
}

func newSeriesCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "series",
		Short: "Build and run the scenario series described by the config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.configPath == "" {
				return fmt.Errorf("--config is required")
			}
			a, err := newApp(f)
			if err != nil {
				return err
			}
			defer a.close()

			entries, err := series.EntriesFromConfig(a.cfg.Series)
			if err != nil {
				return err
			}
			name := a.cfg.Series.Name
			if name == "" {
				name = a.cfg.Title
			}
			root := filepath.Join(a.cfg.WorkDir, utils.SanitizeID(name))
			ser, err := series.FromModifications(a.cfg.Inputs.BaseDir, a.base, entries, root, series.Options{
				Title:       name,
				Description: a.cfg.Description,
				Layout:      series.LayoutFromConfig(a.cfg.Inputs),
				Logger:      a.log,
				Recorder:    a.recorder(),
			})
			if err != nil {
				return err
			}
			m, err := ser.Run(cmd.Context(), a.pool, a.launcher, a.timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), m.Summary())
			for _, fm := range m.FailedMembers() {
				msg := ""
				if fm.Failure != nil {
					msg = fm.Failure.Message
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  failed: %s (%s)\n", fm.ID, msg)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "manifest:", filepath.Join(root, series.ManifestFile))
			return cmd.Context().Err()
		},
	}
}

func newCalibrateCmd(f *rootFlags) *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Run the Monte-Carlo calibration described by the config",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.configPath == "" {
				return fmt.Errorf("--config is required")
			}
			a, err := newApp(f)
			if err != nil {
				return err
			}
			defer a.close()

			req, err := optimizer.RequestFromConfig(a.cfg)
			if err != nil {
				return err
			}
			req.Base = a.base
			req.Layout = series.LayoutFromConfig(a.cfg.Inputs)
			if req.Observed, err = tseries.Read(req.ObservedPath, req.Window); err != nil {
				return fmt.Errorf("load observed data: %w", err)
			}

			o := optimizer.New(a.launcher, a.pool)
			o.Timeout = a.timeout
			o.Recorder = a.recorder()
			o.Observers = a.observers()
			o.Logger = a.log

			res, runErr := o.MonteCarlo(cmd.Context(), req)
			if res == nil {
				return runErr
			}
			name, err := optimizer.MetafileName(a.cfg.WorkDir, utils.SanitizeID(res.Title), utils.SanitizeID(res.Stage))
			if err != nil {
				return err
			}
			path := filepath.Join(a.cfg.WorkDir, name)
			if err := res.Export(path); err != nil {
				return err
			}
			a.log.Info("calibration result written", "path", path, "stop_reason", res.StopReason)

			rows, err := optimizer.Report(res, optimizer.ReportOptions{TopN: top, Output: a.cfg.Inputs.Output})
			if err != nil {
				return err
			}
			if err := optimizer.WriteReport(cmd.OutOrStdout(), rows); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "rows of the result table to print (0 prints all)")
	return cmd
}

func newReportCmd() *cobra.Command {
	var (
		resultPath string
		workDir    string
		stage      string
		paths      bool
		opts       optimizer.ReportOptions
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the ranked result table of exported calibrations",
		Long: `Print the ranked result table of one exported calibration (--result), or
of every replicate calibration of a stage found in a work directory
(--work-dir, --stage). With --stage all each stage gets its own table.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var results []*optimizer.Result
			switch {
			case resultPath != "" && workDir != "":
				return fmt.Errorf("--result and --work-dir cannot be combined")
			case resultPath != "":
				res, err := optimizer.Load(resultPath)
				if err != nil {
					return err
				}
				results = []*optimizer.Result{res}
			case workDir != "":
				var err error
				if results, err = optimizer.LoadStage(workDir, stage); err != nil {
					return err
				}
			default:
				return fmt.Errorf("one of --result or --work-dir is required")
			}

			out := cmd.OutOrStdout()
			groups := optimizer.GroupByStage(results)
			for i, group := range groups {
				if len(groups) > 1 {
					if i > 0 {
						fmt.Fprintln(out)
					}
					fmt.Fprintf(out, "stage %s (%d results)\n", group[0].Stage, len(group))
				}
				rows, err := optimizer.ReportAll(group, opts)
				if err != nil {
					return err
				}
				if err := optimizer.WriteReport(out, rows); err != nil {
					return err
				}
				if paths {
					fmt.Fprintln(out)
					if err := optimizer.WritePaths(out, rows); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&resultPath, "result", "r", "", "exported calibration result (.json or .yaml)")
	cmd.Flags().StringVarP(&workDir, "work-dir", "w", "", "directory holding exported calibration results")
	cmd.Flags().StringVar(&stage, "stage", optimizer.StageAll, "stage to report with --work-dir (all reports every stage)")
	cmd.Flags().BoolVar(&paths, "paths", false, "also print the parameter file and output table of each row")
	cmd.Flags().IntVar(&opts.TopN, "top", 0, "rows to print (0 prints all)")
	cmd.Flags().BoolVar(&opts.Monthly, "monthly", false, "rescore on calendar-month means")
	cmd.Flags().StringVar(&opts.Output, "output", "", "output table path inside each scenario directory")
	return cmd
}
