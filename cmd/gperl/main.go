package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gperl-lang/gperl/core/diag"
	"github.com/gperl-lang/gperl/runtime/interp"
)

func main() {
	var (
		oneLiners   []string
		compileOnly bool
		strict      bool
		warnings    bool
		features    []string
		dumpCode    bool
	)

	root := &cobra.Command{
		Use:   "gperl [flags] [script] [args...]",
		Short: "Run Perl programs on the gperl runtime",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var name, src string
			var scriptArgs []string

			switch {
			case len(oneLiners) > 0:
				name = "-e"
				for _, e := range oneLiners {
					src += e + "\n"
				}
				scriptArgs = args
			case len(args) > 0:
				name = args[0]
				data, err := os.ReadFile(name)
				if err != nil {
					return err
				}
				src = string(data)
				scriptArgs = args[1:]
			default:
				return fmt.Errorf("no program: pass a script file or -e CODE")
			}

			opts := []interp.Option{
				interp.WithArgs(scriptArgs),
				interp.WithDiagSink(diag.Writer{W: os.Stderr}),
			}
			if strict {
				opts = append(opts, interp.WithStrict())
			}
			if warnings {
				opts = append(opts, interp.WithWarnings())
			}
			for _, f := range features {
				opts = append(opts, interp.WithFeature(f))
			}
			if compileOnly {
				opts = append(opts, interp.WithCompileOnly())
			}

			ctx := interp.New(opts...)
			defer ctx.Close()

			if dumpCode {
				return dumpBytecode(ctx, name, src)
			}

			status, diags, err := ctx.CompileAndRun(name, src, scriptArgs)
			if err != nil {
				if d, bad := diags.FirstError(); bad {
					fmt.Fprintln(os.Stderr, d)
				} else {
					fmt.Fprintln(os.Stderr, err)
				}
				os.Exit(max(status, 1))
			}
			if compileOnly && !diags.HasErrors() {
				fmt.Fprintf(os.Stderr, "%s syntax OK\n", name)
			}
			if status != 0 {
				os.Exit(status)
			}
			return nil
		},
	}

	root.Flags().StringArrayVarP(&oneLiners, "eval", "e", nil, "one line of program (may be repeated)")
	root.Flags().BoolVarP(&compileOnly, "compile-only", "c", false, "check syntax, then exit")
	root.Flags().BoolVar(&strict, "strict", false, "enable strictures")
	root.Flags().BoolVarP(&warnings, "warnings", "w", false, "enable all warnings")
	root.Flags().StringArrayVar(&features, "feature", nil, "enable a feature (class, say, signatures, declared_refs)")
	root.Flags().BoolVar(&dumpCode, "dump-bytecode", false, "print the compiled bytecode listing and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
