// Rulegate is the command tool for the rulegate rule evaluation engine.
//
// It authors and checks rule files, evaluates content against them, and
// inspects the audit and adaptation databases the engine writes.
//
// Usage:
//
//	# Validate rule files
//	rulegate lint --dir rules/
//
//	# Run rule test cases
//	rulegate test --rules rules/ --tests cases.yaml
//
//	# Evaluate a piece of content
//	rulegate eval --file draft.txt --context domain=technical
//
//	# Query dispatched violations
//	rulegate audit query --rule weapons-explosives --format csv
//
//	# Show adapted rule parameters
//	rulegate adaptation show
//
//	# Check that every configured component is reachable
//	rulegate doctor
//
//	# Evaluate newline-delimited JSON items with hot rule reload
//	rulegate stream --watch < items.ndjson
package main

import (
	"fmt"
	"os"

	"mercator-hq/rulegate/pkg/cli"
)

func main() {
	ctx, stop := cli.SetupSignalHandler()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
