package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rgehrsitz/cohortsim/internal/breakeven"
	"github.com/rgehrsitz/cohortsim/internal/calculation"
	"github.com/rgehrsitz/cohortsim/internal/compare"
	"github.com/rgehrsitz/cohortsim/internal/config"
	"github.com/rgehrsitz/cohortsim/internal/metrics"
	"github.com/rgehrsitz/cohortsim/internal/output"
	"github.com/rgehrsitz/cohortsim/internal/psa"
	"github.com/rgehrsitz/cohortsim/internal/store"
	"github.com/rgehrsitz/cohortsim/internal/tui"
)

// session is a loaded model plus the engine and settings shared by commands.
type session struct {
	path  string
	env   config.EnvSettings
	model *config.CompiledModel
	calc  *calculation.CalculationEngine
	log   calculation.Logger
}

// loadSession parses the model, applies environment then flag overrides,
// revalidates and compiles it.
func loadSession(cmd *cobra.Command, path string, overrides func(*config.Model)) (*session, error) {
	env, err := config.LoadEnvSettings()
	if err != nil {
		return nil, err
	}
	ip := config.NewInputParser()
	m, err := ip.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	env.Apply(m)
	if overrides != nil {
		overrides(m)
	}
	if err := ip.ValidateConfiguration(m); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	cm, err := ip.Compile(m)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", path, err)
	}

	s := &session{path: path, env: env, model: cm, calc: calculation.NewCalculationEngine(), log: calculation.NopLogger{}}
	debugMode, _ := cmd.Flags().GetBool("debug")
	if debugMode {
		s.log = simpleCLILogger{}
		s.calc.SetLogger(s.log)
	}
	s.calc.Debug = debugMode
	return s, nil
}

func (s *session) modelName() string {
	if s.model.Model.Name != "" {
		return s.model.Model.Name
	}
	return s.path
}

// emit renders the report in the selected format, then stores it when a
// database is configured.
func (s *session) emit(cmd *cobra.Command, r *output.Report) error {
	format, _ := cmd.Flags().GetString("format")
	f := output.GetFormatterByName(format)
	if f == nil {
		return fmt.Errorf("unknown format %q (available: %s)", format, strings.Join(output.AvailableFormatterNames(), ", "))
	}

	dir, _ := cmd.Flags().GetString("output-dir")
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
		filename, err := output.WriteFormatted(f, r, dir, "")
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", filename)
	} else {
		data, err := f.Format(r)
		if err != nil {
			return err
		}
		if _, err := cmd.OutOrStdout().Write(data); err != nil {
			return err
		}
	}

	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = s.env.Database
	}
	if dbPath == "" {
		return nil
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.SaveReport(cmd.Context(), r); err != nil {
		return fmt.Errorf("failed to save run %s: %w", r.RunID, err)
	}
	s.log.Infof("saved run %s to %s", r.RunID, dbPath)
	return nil
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [model-file]",
		Short: "Run every strategy once with the base-case parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession(cmd, args[0], nil)
			if err != nil {
				return err
			}
			cm := s.model
			parameters := cm.Parameters
			if name, _ := cmd.Flags().GetString("scenario"); name != "" {
				tmpl, ok := cm.Templates.Get(name)
				if !ok {
					return fmt.Errorf("scenario %s not found (available: %s)", name, strings.Join(cm.Templates.List(), ", "))
				}
				if parameters, err = tmpl.Apply(parameters); err != nil {
					return err
				}
			}

			results, err := s.calc.RunStrategies(cmd.Context(), parameters, cm.Strategies, cm.Initial, cm.Options)
			if err != nil {
				return err
			}
			r := output.NewReport(s.modelName(), cm.Options)
			r.Results = results
			return s.emit(cmd, r)
		},
	}
	cmd.Flags().String("scenario", "", "Apply a named scenario from the model before running")
	return cmd
}

func psaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "psa [model-file]",
		Short: "Run a probabilistic sensitivity analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession(cmd, args[0], func(m *config.Model) {
				if cmd.Flags().Changed("draws") {
					m.PSA.Draws, _ = cmd.Flags().GetInt("draws")
				}
				if cmd.Flags().Changed("seed") {
					m.PSA.Seed, _ = cmd.Flags().GetUint64("seed")
				}
				if cmd.Flags().Changed("workers") {
					m.PSA.Workers, _ = cmd.Flags().GetInt("workers")
				}
				if cmd.Flags().Changed("continue-on-error") {
					m.PSA.ContinueOnError, _ = cmd.Flags().GetBool("continue-on-error")
				}
			})
			if err != nil {
				return err
			}
			cm := s.model
			draws := cm.Model.PSA.Draws
			if draws <= 0 {
				return fmt.Errorf("model has no PSA draws configured; use --draws")
			}
			lambdas, err := cm.LambdaGrid()
			if err != nil {
				return err
			}

			engine := psa.NewEngine(s.calc, cm.Options, cm.PSAConfig())
			engine.Logger = s.log
			if err := engine.Define(cm.Model.PSA.Distributions...); err != nil {
				return err
			}

			metricsFile, _ := cmd.Flags().GetString("metrics-file")
			if metricsFile == "" {
				metricsFile = s.env.MetricsFile
			}
			m := metrics.NewPSAMetrics(s.modelName())

			work := func(ctx context.Context, onDraw func(psa.Progress)) (*output.PSAReport, error) {
				engine.OnDraw = func(p psa.Progress) {
					m.Observe(p)
					onDraw(p)
				}
				m.Start(draws)
				start := time.Now()
				run, err := engine.Run(ctx, cm.Strategies, cm.Parameters, cm.Initial, draws)
				m.Finish(time.Since(start))
				if err != nil {
					return nil, err
				}
				return output.NewPSAReport(run, lambdas)
			}

			var rep *output.PSAReport
			if useTUI, _ := cmd.Flags().GetBool("tui"); useTUI {
				rep, err = tui.Run(cmd.Context(), "PSA: "+s.modelName(), draws, work)
			} else {
				rep, err = work(cmd.Context(), progressLogger(cmd.ErrOrStderr(), draws))
			}
			if metricsFile != "" {
				if werr := m.WriteTextfile(metricsFile); werr != nil {
					s.log.Warnf("%v", werr)
				}
			}
			if err != nil {
				return err
			}

			r := output.NewReport(s.modelName(), cm.Options)
			r.PSA = rep
			return s.emit(cmd, r)
		},
	}
	cmd.Flags().Int("draws", 0, "Number of draws (overrides the model)")
	cmd.Flags().Uint64("seed", 0, "Random seed (overrides the model)")
	cmd.Flags().Int("workers", 0, "Concurrent draws; 0 uses every CPU")
	cmd.Flags().Bool("continue-on-error", false, "Record failed draws instead of aborting")
	cmd.Flags().Bool("tui", false, "Show an interactive progress display")
	cmd.Flags().String("metrics-file", "", "Write Prometheus textfile metrics here (env COHORTSIM_METRICS_FILE)")
	return cmd
}

// progressLogger prints a line to w at every tenth of the batch.
func progressLogger(w io.Writer, total int) func(psa.Progress) {
	step := max(total/10, 1)
	return func(p psa.Progress) {
		if p.Done%step == 0 || p.Done == total {
			fmt.Fprintf(w, "psa: %d/%d draws (%d failed)\n", p.Done, total, p.Failed)
		}
	}
}

func dsaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dsa [model-file]",
		Short: "Run a one-way deterministic sensitivity analysis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession(cmd, args[0], nil)
			if err != nil {
				return err
			}
			cm := s.model
			variations := append([]calculation.Variation(nil), cm.Variations...)

			names, _ := cmd.Flags().GetStringSlice("param")
			pct, _ := cmd.Flags().GetFloat64("percent")
			for _, name := range names {
				v, err := percentVariation(cm, name, pct)
				if err != nil {
					return err
				}
				variations = append(variations, v)
			}
			if len(variations) == 0 {
				return fmt.Errorf("no variations: add a sensitivity section to the model or use --param")
			}

			analysis, err := calculation.NewSensitivityAnalyzer(s.calc).
				Analyze(cmd.Context(), cm.Parameters, cm.Strategies, cm.Initial, cm.Options, variations)
			if err != nil {
				return err
			}
			r := output.NewReport(s.modelName(), cm.Options)
			r.Sensitivity = analysis
			return s.emit(cmd, r)
		},
	}
	cmd.Flags().StringSlice("param", nil, "Constant parameter to vary by --percent (repeatable)")
	cmd.Flags().Float64("percent", 20, "Relative range for --param variations")
	return cmd
}

// percentVariation varies a constant parameter by pct percent either side.
func percentVariation(cm *config.CompiledModel, name string, pct float64) (calculation.Variation, error) {
	p, ok := cm.Parameters.Parameter(name)
	if !ok {
		return calculation.Variation{}, fmt.Errorf("parameter %s not found", name)
	}
	base, ok := p.ConstantValue()
	if !ok {
		return calculation.Variation{}, fmt.Errorf("parameter %s is a formula; give explicit bounds in the model", name)
	}
	delta := base * pct / 100
	return calculation.Variation{Parameter: name, Low: base - delta, High: base + delta}, nil
}

func compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare [model-file]",
		Short: "Rank strategies, flag dominated ones and report ICERs along the frontier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession(cmd, args[0], nil)
			if err != nil {
				return err
			}
			cm := s.model

			engine := compare.NewCompareEngine(s.calc)
			engine.TemplateRegistry = cm.Templates
			opts := compare.CompareOptions{
				Run:              cm.Options,
				WillingnessToPay: cm.Model.Settings.WillingnessToPay,
				ConfigPath:       s.path,
			}
			if cmd.Flags().Changed("wtp") {
				wtp, _ := cmd.Flags().GetFloat64("wtp")
				opts.WillingnessToPay = &wtp
			}
			opts.Templates, _ = cmd.Flags().GetStringSlice("scenarios")
			if all, _ := cmd.Flags().GetBool("all-scenarios"); all {
				opts.Templates = cm.Templates.List()
			}

			sets, err := engine.CompareScenarios(cmd.Context(), cm.Parameters, cm.Strategies, cm.Initial, opts)
			if err != nil {
				return err
			}
			return writeComparison(cmd, sets)
		},
	}
	cmd.Flags().Float64("wtp", 0, "Willingness to pay per unit of effect (overrides the model)")
	cmd.Flags().StringSlice("scenarios", nil, "Named scenarios to compare next to the base case")
	cmd.Flags().Bool("all-scenarios", false, "Compare every scenario in the model")
	return cmd
}

func writeComparison(cmd *cobra.Command, sets []*compare.ComparisonSet) error {
	format, _ := cmd.Flags().GetString("format")
	out := cmd.OutOrStdout()
	switch strings.ToLower(format) {
	case "console", "table", "text":
		tf := &compare.TableFormatter{}
		for _, set := range sets {
			fmt.Fprint(out, tf.Format(set))
		}
		return nil
	case "compact":
		tf := &compare.TableFormatter{}
		for _, set := range sets {
			fmt.Fprint(out, tf.FormatCompact(set))
		}
		return nil
	case "csv":
		data, err := (&compare.CSVFormatter{}).Format(sets...)
		if err != nil {
			return err
		}
		fmt.Fprint(out, data)
		return nil
	case "json":
		data, err := (&compare.JSONFormatter{Pretty: true}).Format(sets...)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, data)
		return nil
	}
	return fmt.Errorf("compare supports console, compact, csv and json output, not %q", format)
}

func thresholdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threshold [model-file]",
		Short: "Find the parameter value at which the preferred strategy changes",
		Long: "Bisects a parameter range for the value where the comparator's net monetary benefit " +
			"equals the reference's (or, with --goal, where their costs or effects are equal). " +
			"Without --param every sensitivity range in the model is searched.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession(cmd, args[0], nil)
			if err != nil {
				return err
			}
			cm := s.model
			if len(cm.Strategies) < 2 {
				return fmt.Errorf("threshold analysis needs at least two strategies")
			}

			base := breakeven.Request{Reference: cm.Strategies[0].Name, Comparator: cm.Strategies[1].Name}
			if v, _ := cmd.Flags().GetString("reference"); v != "" {
				base.Reference = v
			}
			if v, _ := cmd.Flags().GetString("comparator"); v != "" {
				base.Comparator = v
			}
			goal, _ := cmd.Flags().GetString("goal")
			base.Goal = breakeven.Goal(goal)
			if cmd.Flags().Changed("wtp") {
				base.WillingnessToPay, _ = cmd.Flags().GetFloat64("wtp")
			} else if cm.Model.Settings.WillingnessToPay != nil {
				base.WillingnessToPay = *cm.Model.Settings.WillingnessToPay
			} else if base.Goal == breakeven.GoalNetBenefit {
				return fmt.Errorf("net benefit threshold needs --wtp or settings.willingness_to_pay")
			}
			base.Tolerance, _ = cmd.Flags().GetFloat64("tolerance")
			base.MaxIterations, _ = cmd.Flags().GetInt("max-iterations")

			reqs, err := thresholdRequests(cmd, cm, base)
			if err != nil {
				return err
			}

			solver := breakeven.NewDefaultSolver(s.calc)
			m := breakeven.Model{Parameters: cm.Parameters, Strategies: cm.Strategies, Initial: cm.Initial, Options: cm.Options}
			multi, err := solver.SolveAll(cmd.Context(), m, reqs)
			if err != nil {
				return err
			}

			var sweep []breakeven.Point
			points, _ := cmd.Flags().GetInt("sweep")
			if points > 0 {
				if len(reqs) != 1 {
					return fmt.Errorf("--sweep needs a single --param")
				}
				if sweep, err = solver.Sweep(cmd.Context(), m, reqs[0], points); err != nil {
					return err
				}
			}

			format, _ := cmd.Flags().GetString("format")
			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "console", "table", "text":
				tf := &breakeven.TableFormatter{}
				fmt.Fprint(out, tf.FormatMulti(multi))
				if sweep != nil {
					fmt.Fprint(out, "\n"+tf.FormatSweep(reqs[0], sweep))
				}
				return nil
			case "json":
				payload := struct {
					*breakeven.MultiResult
					Sweep []breakeven.Point `json:"sweep,omitempty"`
				}{multi, sweep}
				data, err := (&breakeven.JSONFormatter{Pretty: true}).Format(payload)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, data)
				return nil
			}
			return fmt.Errorf("threshold supports console and json output, not %q", format)
		},
	}
	cmd.Flags().String("param", "", "Parameter to search (default: every sensitivity range in the model)")
	cmd.Flags().Float64("min", 0, "Lower bound of the search (default: the model's sensitivity low)")
	cmd.Flags().Float64("max", 0, "Upper bound of the search (default: the model's sensitivity high)")
	cmd.Flags().String("reference", "", "Reference strategy (default: the first strategy)")
	cmd.Flags().String("comparator", "", "Comparator strategy (default: the second strategy)")
	cmd.Flags().String("goal", string(breakeven.GoalNetBenefit), "net_benefit, cost_neutral or effect_equal")
	cmd.Flags().Float64("wtp", 0, "Willingness to pay per unit of effect (overrides the model)")
	cmd.Flags().Float64("tolerance", 0, "Absolute tolerance on the parameter (default: a millionth of the range)")
	cmd.Flags().Int("max-iterations", 0, "Bisection iteration limit")
	cmd.Flags().Int("sweep", 0, "Also tabulate the gap at this many evenly spaced values")
	return cmd
}

// thresholdRequests builds one request per searched parameter. Bounds come
// from flags first, then from the model's sensitivity section.
func thresholdRequests(cmd *cobra.Command, cm *config.CompiledModel, base breakeven.Request) ([]breakeven.Request, error) {
	name, _ := cmd.Flags().GetString("param")
	if name == "" {
		if len(cm.Variations) == 0 {
			return nil, fmt.Errorf("no parameters to search: add a sensitivity section to the model or use --param")
		}
		reqs := make([]breakeven.Request, 0, len(cm.Variations))
		for _, v := range cm.Variations {
			r := base
			r.Parameter, r.Min, r.Max = v.Parameter, v.Low, v.High
			reqs = append(reqs, r)
		}
		return reqs, nil
	}

	r := base
	r.Parameter = name
	found := false
	for _, v := range cm.Variations {
		if v.Parameter == name {
			r.Min, r.Max, found = v.Low, v.High, true
		}
	}
	if cmd.Flags().Changed("min") {
		r.Min, _ = cmd.Flags().GetFloat64("min")
	}
	if cmd.Flags().Changed("max") {
		r.Max, _ = cmd.Flags().GetFloat64("max")
	}
	if !found && !(cmd.Flags().Changed("min") && cmd.Flags().Changed("max")) {
		return nil, fmt.Errorf("parameter %s has no sensitivity range; give --min and --max", name)
	}
	return []breakeven.Request{r}, nil
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [model-file]",
		Short: "Check a model file and resolve every strategy's first-cycle matrix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSession(cmd, args[0], nil)
			if err != nil {
				return err
			}
			cm := s.model
			// One cycle exercises every formula and row sum once.
			opts := cm.Options
			opts.Cycles = 1
			if _, err := s.calc.RunStrategies(cmd.Context(), cm.Parameters, cm.Strategies, cm.Initial, opts); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s is valid\n", args[0])
			fmt.Fprintf(out, "  parameters: %d\n", cm.Parameters.Len())
			fmt.Fprintf(out, "  strategies: %d\n", len(cm.Strategies))
			fmt.Fprintf(out, "  states:     %s\n", strings.Join(cm.Strategies[0].StateNames(), ", "))
			fmt.Fprintf(out, "  scenarios:  %d\n", len(cm.Templates.List()))
			fmt.Fprintf(out, "  sampled:    %d\n", len(cm.Model.PSA.Distributions))
			return nil
		},
	}
}

func runsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List stored runs, or show the totals of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, _ := cmd.Flags().GetString("db")
			if dbPath == "" {
				env, err := config.LoadEnvSettings()
				if err != nil {
					return err
				}
				dbPath = env.Database
			}
			if dbPath == "" {
				return fmt.Errorf("no database: use --db or COHORTSIM_DB")
			}
			st, err := store.Open(dbPath)
			if err != nil {
				return err
			}
			defer st.Close()

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			defer w.Flush()

			if len(args) == 0 {
				limit, _ := cmd.Flags().GetInt("limit")
				runs, err := st.ListRuns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "RUN ID\tMODEL\tCREATED\tCYCLES\tMETHOD")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.RunID, r.Model,
						r.CreatedAt.Format(time.RFC3339), r.Settings.Cycles, r.Settings.Method)
				}
				return nil
			}

			totals, err := st.Totals(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "STRATEGY\tCOST\tEFFECT")
			for _, t := range totals {
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Strategy, output.FormatCurrency(t.Cost), output.FormatEffect(t.Effect))
			}
			if summary, err := st.PSASummary(cmd.Context(), args[0]); err == nil {
				fmt.Fprintf(w, "\nPSA\t%d draws\t%d failed\n", summary.Draws, summary.Failed)
				for _, icer := range summary.ICERs {
					fmt.Fprintf(w, "%s vs %s\t%s\t\n", icer.Comparator, icer.Reference, output.FormatICER(icer))
				}
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum runs to list; 0 lists all")
	return cmd
}

func formatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "formats",
		Short: "List output formats",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "formats: %s\n", strings.Join(output.AvailableFormatterNames(), ", "))
			fmt.Fprintf(out, "aliases: %s\n", strings.Join(output.AvailableFormatAliases(), ", "))
		},
	}
}
