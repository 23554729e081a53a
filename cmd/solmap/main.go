// Command solmap solves geometric programs from YAML problem files and
// differentiates their solution maps.
package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solmap-ml/solmap/internal/gpyaml"
	"github.com/solmap-ml/solmap/sensitivity"
	"github.com/solmap-ml/solmap/solver"
)

const version = "v0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "solmap",
		Short:         "Geometric program solver with solution-map sensitivities",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log solver iterations")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newSolveCmd(&verbose))
	root.AddCommand(newDiffCmd(&verbose))
	root.AddCommand(newGradCmd(&verbose))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("solmap %s\n", version)
		},
	}
}

func solveFile(path string, verbose bool) (*solver.Result, error) {
	prog, err := gpyaml.Load(path)
	if err != nil {
		return nil, err
	}
	opts := solver.DefaultOptions()
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return nil, err
		}
		opts.Logger = logger
	}
	return solver.Solve(prog, opts)
}

func newSolveCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "solve FILE",
		Short: "Solve a geometric program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := solveFile(args[0], *verbose)
			if err != nil {
				return err
			}
			fmt.Printf("solved in %d iterations (residual %.3g)\n", res.Iterations, res.Residual)
			printSorted(res.Solution(), "%s = %.6g\n")
			return nil
		},
	}
}

func newDiffCmd(verbose *bool) *cobra.Command {
	var deltas []string
	cmd := &cobra.Command{
		Use:   "diff FILE --delta name=value ...",
		Short: "Forward sensitivity: predict the optimum under parameter deltas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pert, err := parseAssignments(deltas)
			if err != nil {
				return err
			}
			res, err := solveFile(args[0], *verbose)
			if err != nil {
				return err
			}
			out, err := sensitivity.Forward(res, pert)
			if err != nil {
				return err
			}
			sol := res.Solution()
			names := sortedKeys(out)
			for _, name := range names {
				fmt.Printf("%s = %.6g  (delta %+.6g, predicted %.6g)\n",
					name, sol[name], out[name], sol[name]+out[name])
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&deltas, "delta", nil, "parameter delta as name=value (repeatable)")
	return cmd
}

func newGradCmd(verbose *bool) *cobra.Command {
	var seeds []string
	cmd := &cobra.Command{
		Use:   "grad FILE --seed name=value ...",
		Short: "Reverse sensitivity: gradient of a seeded scalar w.r.t. parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed, err := parseAssignments(seeds)
			if err != nil {
				return err
			}
			res, err := solveFile(args[0], *verbose)
			if err != nil {
				return err
			}
			out, err := sensitivity.Backward(res, sensitivity.Seed(seed))
			if err != nil {
				return err
			}
			printSorted(out, "d/d%s = %+.6g\n")
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&seeds, "seed", nil, "variable seed as name=value (repeatable)")
	return cmd
}

func parseAssignments(pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, val, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("expected name=value, got %q", pair)
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value in %q: %w", pair, err)
		}
		out[name] = f
	}
	return out, nil
}

func printSorted(m map[string]float64, format string) {
	for _, name := range sortedKeys(m) {
		fmt.Printf(format, name, m[name])
	}
}

func sortedKeys(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
