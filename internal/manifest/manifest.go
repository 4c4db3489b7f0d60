// Package manifest defines the build instructions a mission executes.
//
// A Manifest is produced by the blueprint client, checked by the policy gate
// and materialised by the foundry. Values are treated as immutable: healing
// yields a new Manifest rather than editing an old one.
package manifest

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

// MaxProjectNameLength bounds project names. Names end up in sandbox,
// repository and deployment identifiers.
const MaxProjectNameLength = 64

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid manifest")

var projectNamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

// Stack is the runtime kind a project is built on.
type Stack string

const (
	StackPython Stack = "python"
	StackNode   Stack = "node"
	StackRust   Stack = "rust"
)

// Stacks returns every supported stack.
func Stacks() []Stack {
	return []Stack{StackPython, StackNode, StackRust}
}

// Valid reports whether s is one of the supported stacks.
func (s Stack) Valid() bool {
	switch s {
	case StackPython, StackNode, StackRust:
		return true
	}
	return false
}

// Deployable reports whether projects on this stack can go live on the
// deployment platform and therefore get a structure check.
func (s Stack) Deployable() bool {
	return s == StackPython || s == StackNode
}

// File is a single file injected into the sandbox.
type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// Manifest holds the fabrication instructions for one build.
type Manifest struct {
	ProjectName  string `json:"project_name"`
	Stack        Stack  `json:"stack"`
	Files        []File `json:"files"`
	AuditCommand string `json:"audit_command"`
	RunCommand   string `json:"run_command"`
}

// Normalize trims surrounding whitespace from the scalar fields and
// lowercases the stack. It returns a copy; m is left untouched.
func (m *Manifest) Normalize() *Manifest {
	out := m.Clone()
	out.ProjectName = strings.TrimSpace(out.ProjectName)
	out.Stack = Stack(strings.ToLower(strings.TrimSpace(string(out.Stack))))
	out.AuditCommand = strings.TrimSpace(out.AuditCommand)
	out.RunCommand = strings.TrimSpace(out.RunCommand)
	for i := range out.Files {
		out.Files[i].Path = strings.TrimSpace(out.Files[i].Path)
	}
	return out
}

// Clone returns a deep copy of m.
func (m *Manifest) Clone() *Manifest {
	out := *m
	out.Files = append([]File(nil), m.Files...)
	return &out
}

// Validate checks the manifest's structural rules. It does not apply
// security policy; see the policy package for that.
func (m *Manifest) Validate() error {
	var errs []error

	switch {
	case m.ProjectName == "":
		errs = append(errs, errors.New("project_name is required"))
	case len(m.ProjectName) > MaxProjectNameLength:
		errs = append(errs, fmt.Errorf("project_name exceeds %d characters", MaxProjectNameLength))
	case !projectNamePattern.MatchString(m.ProjectName):
		errs = append(errs, fmt.Errorf("project_name %q must start with a letter and contain only letters, digits, '-' or '_'", m.ProjectName))
	}

	if !m.Stack.Valid() {
		errs = append(errs, fmt.Errorf("stack %q is not supported", m.Stack))
	}

	if len(m.Files) == 0 {
		errs = append(errs, errors.New("files must not be empty"))
	}
	seen := make(map[string]struct{}, len(m.Files))
	for i, f := range m.Files {
		if err := validatePath(f.Path); err != nil {
			errs = append(errs, fmt.Errorf("files[%d]: %w", i, err))
			continue
		}
		clean := path.Clean(f.Path)
		if _, dup := seen[clean]; dup {
			errs = append(errs, fmt.Errorf("files[%d]: duplicate path %q", i, f.Path))
		}
		seen[clean] = struct{}{}
	}

	if m.AuditCommand == "" {
		errs = append(errs, errors.New("audit_command is required"))
	}
	if m.RunCommand == "" {
		errs = append(errs, errors.New("run_command is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func validatePath(p string) error {
	if p == "" {
		return errors.New("path is required")
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, `\`) {
		return fmt.Errorf("path %q must be relative", p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return fmt.Errorf("path %q escapes the workspace", p)
		}
	}
	if path.Clean(p) == "." {
		return fmt.Errorf("path %q names no file", p)
	}
	return nil
}

// HasFile reports whether the manifest declares a file at p.
func (m *Manifest) HasFile(p string) bool {
	_, ok := m.File(p)
	return ok
}

// File returns the file declared at p.
func (m *Manifest) File(p string) (File, bool) {
	want := path.Clean(p)
	for _, f := range m.Files {
		if path.Clean(f.Path) == want {
			return f, true
		}
	}
	return File{}, false
}
