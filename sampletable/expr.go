package sampletable

import (
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/pkg/errors"
)

// compiledExpr wraps an expr-lang program compiled with expr.AsBool, the
// same compile-once/run-many pattern the rule engine this is grounded on
// uses for its per-job classification rules.
type compiledExpr struct {
	program *vm.Program
}

func (*compiledExpr) isExpr() {}

// Compile parses and type-checks a boolean sample-metadata expression (e.g.
// `cohort == "case" && depth > 10`). The result is reusable across any
// number of Eval calls and tables.
func Compile(src string) (Expr, error) {
	program, err := expr.Compile(src, expr.AsBool())
	if err != nil {
		return nil, errors.Wrapf(err, "sampletable: compile %q", src)
	}
	return &compiledExpr{program: program}, nil
}

// Eval runs e against row's attributes, plus the row's sample name bound as
// `sample`.
func Eval(t Table, row int, e Expr) (bool, error) {
	ce, ok := e.(*compiledExpr)
	if !ok {
		return false, errors.New("sampletable: Expr not produced by Compile")
	}
	env := make(map[string]any, len(t.Attributes(row))+1)
	for k, v := range t.Attributes(row) {
		env[k] = v
	}
	env["sample"] = t.SampleName(row)

	out, err := expr.Run(ce.program, env)
	if err != nil {
		return false, errors.Wrap(err, "sampletable: eval")
	}
	result, ok := out.(bool)
	if !ok {
		return false, errors.New("sampletable: expression did not evaluate to bool")
	}
	return result, nil
}
