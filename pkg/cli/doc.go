/*
Package cli provides helpers shared by the rulegate commands.

Output Formatting:

Commands accept --format and render results with a Formatter. Tabular data
implements Table so it can be printed as aligned text or CSV:

	format, err := cli.ParseFormat(flags.format, cli.FormatText, cli.FormatJSON)
	if err != nil {
		return err
	}
	return cli.NewFormatter(format).FormatTo(cmd.OutOrStdout(), report)

Errors and Exit Codes:

Commands return a *CommandError when they ran but found problems (invalid
rules, failing cases) and a *UsageError for bad flags. ExitCode maps them to
1 and 2.

Progress Reporting:

	progress := cli.NewProgressReporter(os.Stderr, "cases")
	progress.Start(int64(len(cases)))
	for range cases {
		progress.Increment()
	}
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
*/
package cli
