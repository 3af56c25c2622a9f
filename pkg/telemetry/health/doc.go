// Package health runs component health checks for the rulegate command tool.
//
// The doctor command registers one check per wired component (rule source,
// audit database, adaptation persistence) and prints the aggregated Report.
// Components that are disabled in configuration are registered with
// RegisterDisabled so they show up in the report without degrading it.
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("rules", func(ctx context.Context) error {
//	    _, err := reg.Reload(ctx)
//	    return err
//	})
//	checker.RegisterDisabled("audit", "audit.enabled is false")
//
//	report := checker.Run(ctx)
//	if !report.Healthy() {
//	    os.Exit(1)
//	}
//
// Checks run concurrently, each bounded by the checker timeout. A check that
// times out or panics is reported as unhealthy.
package health
