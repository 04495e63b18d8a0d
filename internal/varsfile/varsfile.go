// Package varsfile reads Terraform .tfvars files. astrodeploy never interprets the
// deployment configuration beyond a handful of lookups (project, region) used to
// derive bastion commands and credential preflights.
package varsfile

import (
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// File is a parsed vars file.
type File struct {
	Path   string
	values map[string]cty.Value
}

// Load parses path as HCL native syntax. Attribute expressions are evaluated without a
// context, which is all a vars file may contain.
func Load(path string) (*File, error) {
	parser := hclparse.NewParser()
	f, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse vars file %s: %w", path, diags)
	}
	attrs, diags := f.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("vars file %s: %w", path, diags)
	}
	values := make(map[string]cty.Value, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(&hcl.EvalContext{})
		if diags.HasErrors() {
			return nil, fmt.Errorf("vars file %s: variable %q: %w", path, name, diags)
		}
		values[name] = val
	}
	return &File{Path: path, values: values}, nil
}

// Names returns the declared variable names in sorted order.
func (f *File) Names() []string {
	if f == nil {
		return nil
	}
	names := make([]string, 0, len(f.values))
	for name := range f.values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String returns the named variable converted to a string. Variables that are unset,
// null, unknown or not convertible report ok=false.
func (f *File) String(name string) (string, bool) {
	if f == nil {
		return "", false
	}
	val, ok := f.values[name]
	if !ok || val.IsNull() || !val.IsKnown() {
		return "", false
	}
	str, err := convert.Convert(val, cty.String)
	if err != nil {
		return "", false
	}
	return str.AsString(), true
}

// FirstString returns the first of names that is set as a string.
func (f *File) FirstString(names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := f.String(name); ok && v != "" {
			return v, true
		}
	}
	return "", false
}
