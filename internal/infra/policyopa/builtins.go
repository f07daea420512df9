package policyopa

import "github.com/open-policy-agent/opa/ast"

// Admission rules only look at upload metadata, so the builtin set is
// limited to pure comparisons and string helpers.
var allowedBuiltins = map[string]struct{}{
	"assign":            {},
	"concat":            {},
	"contains":          {},
	"count":             {},
	"endswith":          {},
	"eq":                {},
	"equal":             {},
	"gt":                {},
	"gte":               {},
	"internal.member_2": {},
	"lower":             {},
	"lt":                {},
	"lte":               {},
	"max":               {},
	"min":               {},
	"minus":             {},
	"neq":               {},
	"object.get":        {},
	"plus":              {},
	"regex.match":       {},
	"sort":              {},
	"split":             {},
	"sprintf":           {},
	"startswith":        {},
	"substring":         {},
	"trim":              {},
	"trim_space":        {},
	"upper":             {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	allowed := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if _, ok := allowedBuiltins[builtin.Name]; !ok {
			continue
		}
		allowed = append(allowed, builtin)
	}
	return allowed
}
