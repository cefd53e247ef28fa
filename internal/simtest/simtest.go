// Package simtest provides a stand-in for the PRMS executable used by tests.
// A test binary calls MaybeRun from TestMain; when re-executed with the stub
// environment it behaves like the simulator: it reads inputs/parameters,
// writes outputs/statvar.dat with value = mean(k) * 10 for every day and
// exits.
package simtest

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/GoSim-25-26J-441/prms-calibration/internal/params"
	"github.com/GoSim-25-26J-441/prms-calibration/internal/tseries"
)

const (
	envStub      = "PRMS_STUB_SIMULATOR"
	envFailAbove = "PRMS_STUB_FAIL_ABOVE"
	envSleep     = "PRMS_STUB_SLEEP"
	envParam     = "PRMS_STUB_PARAM"

	// Column is the statvar column the stub writes.
	Column = "basin_cfs_1"
	// Days is the number of daily rows the stub writes.
	Days = 5
	// FailExitCode is the stub's exit status when it refuses a value.
	FailExitCode = 3
)

// Start is the first day of stub output and of Observed series.
var Start = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Options tune the stub's behaviour.
type Options struct {
	// FailAbove makes the stub exit non-zero when mean(k) exceeds it.
	FailAbove float64
	// Sleep delays the stub before writing output.
	Sleep time.Duration
	// Param is the parameter to read; defaults to "k".
	Param string
}

// Executable returns the path of the running test binary.
func Executable() string {
	exe, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return exe
}

// Args are the launcher arguments for the stub.
func Args() []string { return []string{"{control}"} }

// Env returns the environment that switches a re-executed test binary into
// stub mode.
func Env(o Options) []string {
	env := []string{envStub + "=1"}
	if o.FailAbove != 0 {
		env = append(env, envFailAbove+"="+strconv.FormatFloat(o.FailAbove, 'g', -1, 64))
	}
	if o.Sleep > 0 {
		env = append(env, envSleep+"="+o.Sleep.String())
	}
	if o.Param != "" {
		env = append(env, envParam+"="+o.Param)
	}
	return env
}

// MaybeRun runs the stub and exits the process when the stub environment is
// set; otherwise it returns immediately.
func MaybeRun() {
	if os.Getenv(envStub) != "1" {
		return
	}
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "stub: missing control file argument")
		return 2
	}
	control := os.Args[len(os.Args)-1]
	if _, err := os.Stat(control); err != nil {
		fmt.Fprintf(os.Stderr, "stub: control file: %v\n", err)
		return 2
	}
	if d, err := time.ParseDuration(os.Getenv(envSleep)); err == nil {
		time.Sleep(d)
	}
	name := os.Getenv(envParam)
	if name == "" {
		name = "k"
	}
	ps, err := params.Read(filepath.Join("inputs", "parameters"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "stub: %v\n", err)
		return 2
	}
	values, err := ps.Values(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stub: %v\n", err)
		return 2
	}
	k := stat.Mean(values, nil)
	fmt.Printf("stub simulator: %s=%g\n", name, k)
	if limit, err := strconv.ParseFloat(os.Getenv(envFailAbove), 64); err == nil && k > limit {
		fmt.Fprintf(os.Stderr, "stub: %s=%g exceeds %g\n", name, k, limit)
		return FailExitCode
	}
	t, err := Constant(Column, k*10, Days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stub: %v\n", err)
		return 2
	}
	f, err := os.Create(filepath.Join("outputs", "statvar.dat"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "stub: %v\n", err)
		return 2
	}
	defer f.Close()
	if err := t.WriteStatvar(f); err != nil {
		fmt.Fprintf(os.Stderr, "stub: %v\n", err)
		return 2
	}
	return 0
}

// Constant builds a daily table with one column holding v.
func Constant(column string, v float64, days int) (*tseries.Table, error) {
	times := make([]time.Time, days)
	vals := make([]float64, days)
	for i := range times {
		times[i] = Start.AddDate(0, 0, i)
		vals[i] = v
	}
	return tseries.New(times, []tseries.Column{{Name: column}}, [][]float64{vals})
}

// ParamFile renders a parameter file declaring a single one-element
// parameter k.
func ParamFile(k float64) string {
	return "Stub parameter file\nVersion: 1.0\n** Dimensions **\n####\none\n1\n** Parameters **\n####\nk 10\n1\none\n1\n2\n" +
		strconv.FormatFloat(k, 'f', -1, 64) + "\n"
}

// WriteBase creates a complete base input tree in dir with k as the only
// parameter and returns the parsed parameter set.
func WriteBase(dir string, k float64) (*params.Set, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	files := map[string]string{
		"control":    "Stub control file\n####\nmodel_mode\n1\n4\nPRMS\n",
		"data":       "Stub data\nrunoff 1\n####\n2000 1 1 0 0 0 1.0\n",
		"parameters": ParamFile(k),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return nil, err
		}
	}
	return params.Read(filepath.Join(dir, "parameters"))
}

// WriteObserved writes a CSV of a constant daily series named column.
func WriteObserved(path, column string, v float64, days int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fmt.Fprintf(f, "date,%s\n", column)
	for i := 0; i < days; i++ {
		fmt.Fprintf(f, "%s,%s\n", Start.AddDate(0, 0, i).Format(time.DateOnly), strconv.FormatFloat(v, 'g', -1, 64))
	}
	return nil
}
