package cmd

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/swap-sched/swap-sched/swap/workload"
)

// replayCmd replays a YAML workload scenario through the scheduler
// against the simulated tensor store and prints the resulting plan.
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a recorded access workload through the scheduler",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		if workloadPath == "" {
			logrus.Fatal("No workload file provided (--workload)")
		}

		report, err := runReplay(workloadPath)
		if err != nil {
			logrus.Fatalf("Replay failed: %v", err)
		}
		printReport(report, showPlan)

		logrus.Info("Replay complete.")
	},
}

// runReplay loads, validates and runs one scenario.
func runReplay(path string) (*workload.Report, error) {
	spec, err := workload.Load(path)
	if err != nil {
		return nil, err
	}

	logrus.Infof("Starting replay: budget=%d bytes, %d iterations, %d functions",
		spec.BudgetBytes, spec.Iterations, len(spec.Functions))

	replay, err := workload.NewReplay(spec)
	if err != nil {
		return nil, err
	}
	return replay.Run()
}

func printReport(report *workload.Report, plan bool) {
	s := report.Summary
	fmt.Printf("iterations: %d  functions: %d  records: %d  arrays: %d  budget: %d bytes\n",
		report.Iterations, s.Functions, s.Records, s.Arrays, s.BudgetBytes)
	fmt.Printf("device synchronizations: %d\n", report.Synchronizes)

	if plan {
		fmt.Println("func  swap-ins  swap-outs  waits  in-bytes  out-bytes")
		for fid, fp := range s.PerFunction {
			fmt.Printf("%4d  %8d  %9d  %5d  %8d  %9d\n",
				fid, fp.SwapIns, fp.SwapOuts, fp.Waits, fp.SwapInBytes, fp.SwapOutBytes)
		}
	}

	names := make([]string, 0, len(report.Metrics))
	for name := range report.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("%s: %.0f\n", name, report.Metrics[name])
	}
}

func init() {
	replayCmd.Flags().StringVar(&workloadPath, "workload", "", "Path to the YAML workload scenario")
	replayCmd.Flags().BoolVar(&showPlan, "show-plan", false, "Print the per-function schedule table")
}
