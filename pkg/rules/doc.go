// Package rules defines the rule model evaluated by the rulegate engine.
//
// A Rule describes one detection: the tier it belongs to, how severe a match
// is, how a match is enforced, and the patterns that detect it. Rules are
// grouped into an immutable, versioned RuleSet snapshot. The engine only ever
// reads a RuleSet; publishing a new one is the job of the registry package.
//
// # Tiers
//
// Tiers form a total order:
//
//	safety > operational > preference
//
// Safety rules are non-negotiable. A safety rule in strict mode can never be
// removed or downgraded during conflict resolution.
//
// # Rule Files
//
// Rules are usually authored in YAML:
//
//	rules:
//	  - id: weapons-instructions
//	    name: Weapons instructions
//	    tier: safety
//	    category: weapons
//	    severity: critical
//	    mode: strict
//	    override: none
//	    patterns:
//	      keywords: ["how to make a bomb"]
//	      regex: ['(?i)build\s+an?\s+explosive']
//
// Parameters drive built-in checks that are not plain pattern matches:
//
//	  - id: fair-use-quotes
//	    tier: operational
//	    category: copyright
//	    severity: medium
//	    mode: advisory
//	    parameters:
//	      max_quote_length: 100
package rules
