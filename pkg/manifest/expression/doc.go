// Package expression provides when-guard evaluation for manifest steps.
//
// It uses the expr-lang/expr library to evaluate boolean expressions that
// determine whether a step should execute or be skipped. Expressions support:
//
//   - Variable access: params.env, outputs["2"]
//   - Comparisons: ==, !=, <, >, <=, >=
//   - Boolean logic: &&, ||, !
//   - Membership: "value" in array (built-in operator)
//   - Custom functions: has(collection, element), length(collection)
//
// Example expressions:
//
//	params.env == "prod"
//	params.region != "" && params.dryness != "full"
//	outputs["1"] != ""
//	!has(params, "skipChecks")
//
// The evaluator caches compiled expressions so repeated evaluation of the
// same guard costs one compile.
//
// Note: The expr library uses "contains" as a string operator (for substring
// matching), so use "in" or "has()" for membership checks.
package expression
