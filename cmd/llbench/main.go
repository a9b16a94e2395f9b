// Command llbench runs throughput workloads against the layoutsync
// containers under each lock policy and verifies the results.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/llxisdsh/layoutsync"
	"github.com/nnsgmsone/damrey/logger"
	"gopkg.in/yaml.v3"
)

func main() {
	os.Exit(llbench(os.Args[1:], os.Stdout, os.Stderr))
}

// newLogger returns a logger that writes errors to w. A fresh damrey
// logger sits at INFO, which drops Errorf.
func newLogger(w io.Writer) logger.Log {
	log := logger.New(w, "llbench")
	log.SetLevel(logger.PANIC)
	return log
}

// llbench runs the command and returns its exit status: 2 for usage,
// configuration or output errors, 1 if any workload failed verification.
func llbench(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("llbench", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		configPath = fs.String("config", "", "workload file (yaml); built-in workloads if empty")
		policy     = fs.String("policy", "", "run every workload under this policy only")
		goroutines = fs.Int("goroutines", 0, "override goroutines per workload")
		ops        = fs.Int("ops", 0, "override operations per goroutine")
		format     = fs.String("format", "", "report format: text or yaml")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	log := newLogger(stderr)
	cfg, err := readConfig(*configPath)
	if err != nil {
		log.Errorf("%v\n", err)
		return 2
	}
	if err := cfg.override(*policy, *goroutines, *ops, *format); err != nil {
		log.Errorf("%v\n", err)
		return 2
	}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			log.Errorf("open log file: %v\n", err)
			return 2
		}
		defer f.Close()
		log = newLogger(f)
	}

	var results []Result
	failed := 0
	for _, w := range cfg.Workloads {
		for _, p := range w.Policies {
			res := run(w, p)
			if res.Err != "" {
				log.Errorf("workload %s under %s: %s\n", res.Workload, res.Policy, res.Err)
				failed++
			}
			results = append(results, res)
		}
	}
	if err := report(stdout, cfg.Format, results); err != nil {
		log.Errorf("write report: %v\n", err)
		return 2
	}
	if failed > 0 {
		return 1
	}
	return 0
}

func readConfig(path string) (*Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return loadConfig(f)
}

// override applies command line flags on top of the file.
func (c *Config) override(policy string, goroutines, ops int, format string) error {
	if format != "" {
		c.Format = format
	}
	var only []layoutsync.Policy
	if policy != "" {
		p, err := layoutsync.ParsePolicy(policy)
		if err != nil {
			return err
		}
		only = []layoutsync.Policy{p}
	}
	for i := range c.Workloads {
		w := &c.Workloads[i]
		if only != nil {
			w.Policies = only
		}
		if goroutines > 0 {
			w.Goroutines = goroutines
		}
		if ops > 0 {
			w.Ops = ops
		}
	}
	return c.validate()
}

func report(out io.Writer, format string, results []Result) error {
	if format == "yaml" {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(results); err != nil {
			return err
		}
		return enc.Close()
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKLOAD\tPOLICY\tGOROUTINES\tOPS\tELAPSED\tCPU\tOPS/SEC\tSTATUS")
	for _, r := range results {
		status := "ok"
		if r.Err != "" {
			status = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%v\t%v\t%.0f\t%s\n",
			r.Workload, r.Policy, r.Goroutines, r.Ops, r.Elapsed, r.CPU, r.OpsPerSec, status)
	}
	return tw.Flush()
}
