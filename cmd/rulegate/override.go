package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/rulegate/pkg/adaptation"
	"mercator-hq/rulegate/pkg/cli"
	"mercator-hq/rulegate/pkg/engine"
)

var overrideFlags struct {
	rule          string
	token         string
	digest        string
	justification string
	rules         string
}

var overrideCmd = &cobra.Command{
	Use:   "override",
	Short: "Override a warning returned by eval",
	Long: `Honour a warning override and record it as feedback for the rule.

The token and content digest are printed by eval. Rules with the
justification_required policy need --justification; strict safety rules can
never be overridden. With adaptation enabled, overrides count toward the
rule's override rate.

Examples:
  rulegate override --rule copyright-quote --token <token> --digest <digest> \
    --justification "quoted with permission"`,
	RunE: overrideWarning,
}

var feedbackFlags struct {
	rule  string
	kind  string
	rules string
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Record feedback about a rule",
	Long: `Record that a rule missed content it should have caught, or that it
fired correctly. Requires adaptation to be enabled.

Examples:
  rulegate feedback --rule pii-email --kind missed
  rulegate feedback --rule pii-email --kind confirmed`,
	RunE: recordFeedback,
}

func init() {
	rootCmd.AddCommand(overrideCmd, feedbackCmd)

	overrideCmd.Flags().StringVar(&overrideFlags.rule, "rule", "", "rule that produced the warning")
	overrideCmd.Flags().StringVar(&overrideFlags.token, "token", "", "override token from the warning")
	overrideCmd.Flags().StringVar(&overrideFlags.digest, "digest", "", "content digest of the evaluation")
	overrideCmd.Flags().StringVar(&overrideFlags.justification, "justification", "", "reason for the override")
	overrideCmd.Flags().StringVarP(&overrideFlags.rules, "rules", "r", "", "rule file or directory (default: configured rule layers)")

	feedbackCmd.Flags().StringVar(&feedbackFlags.rule, "rule", "", "rule the feedback is about")
	feedbackCmd.Flags().StringVar(&feedbackFlags.kind, "kind", "", "feedback kind: missed, confirmed")
	feedbackCmd.Flags().StringVarP(&feedbackFlags.rules, "rules", "r", "", "rule file or directory (default: configured rule layers)")

	for _, name := range []string{"rule", "token", "digest"} {
		if err := overrideCmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("failed to mark %s flag as required: %v", name, err))
		}
	}
	for _, name := range []string{"rule", "kind"} {
		if err := feedbackCmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Sprintf("failed to mark %s flag as required: %v", name, err))
		}
	}
}

func overrideWarning(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx := commandContext(cmd)
	st, err := newStack(ctx, cfg, overrideFlags.rules, logger)
	if err != nil {
		return cli.NewCommandError("override", err)
	}
	defer st.Close(ctx)

	err = st.engine.Override(ctx, engine.OverrideRequest{
		RuleID:        overrideFlags.rule,
		Token:         overrideFlags.token,
		ContentDigest: overrideFlags.digest,
		Justification: overrideFlags.justification,
	})
	if err != nil {
		return cli.NewCommandError("override", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Warning from %s overridden\n", overrideFlags.rule)
	if st.store == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "  adaptation is disabled; the override was not recorded")
	}
	return nil
}

func recordFeedback(cmd *cobra.Command, args []string) error {
	kind := adaptation.SignalKind(feedbackFlags.kind)
	if kind != adaptation.SignalMissed && kind != adaptation.SignalConfirmed {
		return cli.NewUsageError(fmt.Sprintf("invalid feedback kind %q: must be 'missed' or 'confirmed'", feedbackFlags.kind))
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	if !cfg.Adaptation.Enabled {
		return cli.NewCommandError("feedback", fmt.Errorf("adaptation is disabled in the configuration"))
	}

	ctx := commandContext(cmd)
	st, err := newStack(ctx, cfg, feedbackFlags.rules, logger)
	if err != nil {
		return cli.NewCommandError("feedback", err)
	}
	defer st.Close(ctx)

	rule, ok := st.registry.Current().Get(feedbackFlags.rule)
	if !ok {
		return cli.NewCommandError("feedback", fmt.Errorf("unknown rule %q", feedbackFlags.rule))
	}
	if !st.store.Feedback(*rule, kind) {
		return cli.NewCommandError("feedback", fmt.Errorf("feedback for %s was dropped", rule.ID))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Recorded %s feedback for %s\n", kind, rule.ID)
	return nil
}
