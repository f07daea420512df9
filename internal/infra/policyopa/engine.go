// Package policyopa evaluates upload admission rules written in rego.
package policyopa

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"evidencia/internal/domain"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
)

const defaultQuery = "data.evidencia.admission.result"

//go:embed policies/admission.rego
var defaultPolicy string

type Engine struct {
	query      rego.PreparedEvalQuery
	policyHash string
}

type denial struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type policyResult struct {
	Allow bool     `json:"allow"`
	Deny  []denial `json:"deny"`
}

// NewEngine compiles the rego module at path, or the built-in admission
// rules when path is empty.
func NewEngine(ctx context.Context, path string) (*Engine, error) {
	source := defaultPolicy
	name := "admission.rego"
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read admission policy: %w", err)
		}
		source = string(raw)
		name = path
	}
	return newEngine(ctx, name, source)
}

func newEngine(ctx context.Context, name, source string) (*Engine, error) {
	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Module(name, source),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile admission policy: %w", err)
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(source))
	return &Engine{query: prepared, policyHash: hex.EncodeToString(sum[:])}, nil
}

// PolicyHash identifies the compiled rules in logs.
func (e *Engine) PolicyHash() string {
	return e.policyHash
}

func (e *Engine) Evaluate(ctx context.Context, input domain.AdmissionInput) (domain.AdmissionDecision, error) {
	if e == nil {
		return domain.AdmissionDecision{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.AdmissionDecision{}, errors.New("empty policy result")
	}
	result, err := decodePolicyResult(results[0].Expressions[0].Value)
	if err != nil {
		return domain.AdmissionDecision{}, err
	}
	sort.Slice(result.Deny, func(i, j int) bool {
		if result.Deny[i].Code == result.Deny[j].Code {
			return result.Deny[i].Message < result.Deny[j].Message
		}
		return result.Deny[i].Code < result.Deny[j].Code
	})
	decision := domain.AdmissionDecision{Allow: result.Allow && len(result.Deny) == 0}
	for _, d := range result.Deny {
		decision.Reasons = append(decision.Reasons, d.Code+": "+d.Message)
	}
	return decision, nil
}

func decodePolicyResult(value any) (policyResult, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return policyResult{}, err
	}
	var result policyResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return policyResult{}, err
	}
	return result, nil
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	forbidden := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, ok := ast.BuiltinMap[name]; !ok {
				return false
			}
			if _, ok := allowedBuiltins[name]; ok {
				return false
			}
			forbidden[name] = struct{}{}
			return false
		})
	}
	if len(forbidden) == 0 {
		return nil
	}
	names := make([]string, 0, len(forbidden))
	for name := range forbidden {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
