package hookspec

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/knhk/internal/hooks"
	"github.com/roach88/knhk/internal/kernel"
)

//go:embed schema.cue
var schemaCUE string

// Spec is a decoded hook file.
type Spec struct {
	Version uint64
	Hooks   []hooks.Hook // declaration order
}

// CompileError carries the CUE position of a hook definition error.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Parse decodes a hook file without building a snapshot.
// filename is used in error positions only.
func Parse(filename string, src []byte) (*Spec, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("hook schema: %w", err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v = schema.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &Spec{}
	var err error
	if spec.Version, err = v.LookupPath(cue.ParsePath("version")).Uint64(); err != nil {
		return nil, formatCUEError(err)
	}

	iter, err := v.LookupPath(cue.ParsePath("hooks")).Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		h, err := decodeHook(iter.Selector().Unquoted(), iter.Value())
		if err != nil {
			return nil, err
		}
		spec.Hooks = append(spec.Hooks, h)
	}

	return spec, nil
}

// Compile decodes a hook file and builds a snapshot from it.
func Compile(filename string, src []byte) (*hooks.Snapshot, error) {
	spec, err := Parse(filename, src)
	if err != nil {
		return nil, err
	}
	snap, err := hooks.NewSnapshot(spec.Version, spec.Hooks...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return snap, nil
}

// CompileFile reads and compiles a hook file.
func CompileFile(path string) (*hooks.Snapshot, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hook file: %w", err)
	}
	return Compile(filepath.Base(path), src)
}

func decodeHook(name string, v cue.Value) (hooks.Hook, error) {
	h := hooks.Hook{Name: name}

	var err error
	if h.ID, err = v.LookupPath(cue.ParsePath("id")).Uint64(); err != nil {
		return h, formatCUEError(err)
	}
	if h.Predicate, err = v.LookupPath(cue.ParsePath("predicate")).Uint64(); err != nil {
		return h, formatCUEError(err)
	}

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	kindName, err := kindVal.String()
	if err != nil {
		return h, formatCUEError(err)
	}
	if h.Kind, err = kernel.ParseKind(kindName); err != nil {
		return h, &CompileError{Field: "hooks." + name + ".kind", Message: err.Error(), Pos: kindVal.Pos()}
	}

	if h.Params.Subject, err = optionalUint(v, "subject"); err != nil {
		return h, err
	}
	if h.Params.Object, err = optionalUint(v, "object"); err != nil {
		return h, err
	}
	if h.Params.Threshold, err = optionalUint(v, "threshold"); err != nil {
		return h, err
	}
	datatype, err := optionalUint(v, "datatype")
	if err != nil {
		return h, err
	}
	h.Params.Datatype = uint8(datatype)

	if opVal := v.LookupPath(cue.ParsePath("op")); opVal.Exists() {
		opName, err := opVal.String()
		if err != nil {
			return h, formatCUEError(err)
		}
		if h.Params.Op, err = kernel.ParseOp(opName); err != nil {
			return h, &CompileError{Field: "hooks." + name + ".op", Message: err.Error(), Pos: opVal.Pos()}
		}
	}

	if err := h.Params.Validate(h.Kind); err != nil {
		return h, &CompileError{Field: "hooks." + name, Message: err.Error(), Pos: v.Pos()}
	}
	return h, nil
}

func optionalUint(v cue.Value, field string) (uint64, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return 0, nil
	}
	n, err := fv.Uint64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return n, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
