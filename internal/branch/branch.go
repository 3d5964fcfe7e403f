package branch

import (
	"errors"
	"strings"
)

// DefaultAutomation is the branch used to stage and publish a single fix.
const DefaultAutomation Name = "auto-fix-branch"

// Name is a local branch name. The zero value means "no branch".
type Name string

// String returns the branch name.
func (n Name) String() string {
	return string(n)
}

// IsZero reports whether the name is empty.
func (n Name) IsZero() bool {
	return n == ""
}

// Automation identifies the transient branch owned by the automation. All
// comparisons against it go through IsAutomation.
type Automation struct {
	name Name
}

// NewAutomation validates name and returns an Automation for it. An empty
// name selects DefaultAutomation.
func NewAutomation(name string) (Automation, error) {
	normalized := NormalizeBranch(name)
	if normalized == "" {
		return Automation{name: DefaultAutomation}, nil
	}
	if err := Validate(normalized); err != nil {
		return Automation{}, err
	}
	return Automation{name: Name(normalized)}, nil
}

// Name returns the automation branch name, falling back to DefaultAutomation
// for the zero value.
func (a Automation) Name() Name {
	if a.name == "" {
		return DefaultAutomation
	}
	return a.name
}

// IsAutomation reports whether n is the automation branch.
func (a Automation) IsAutomation(n Name) bool {
	return n == a.Name()
}

// Safe reports whether n can be restored to: non-empty and not the automation branch.
func (a Automation) Safe(n Name) bool {
	return !n.IsZero() && !a.IsAutomation(n)
}

// Filter returns the names that are not the automation branch, preserving order.
func (a Automation) Filter(names []Name) []Name {
	out := make([]Name, 0, len(names))
	for _, n := range names {
		if a.Safe(n) {
			out = append(out, n)
		}
	}
	return out
}

// Set is a lookup view over local branch names.
type Set map[Name]struct{}

// NewSet builds a Set from names.
func NewSet(names []Name) Set {
	s := make(Set, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether n is in the set.
func (s Set) Has(n Name) bool {
	_, ok := s[n]
	return ok
}

// FromStrings converts raw branch names, skipping blanks.
func FromStrings(raw []string) []Name {
	names := make([]Name, 0, len(raw))
	for _, r := range raw {
		if n := NormalizeBranch(r); n != "" {
			names = append(names, Name(n))
		}
	}
	return names
}

// Validate ensures a branch conforms to simple safety checks.
func Validate(branch string) error {
	if branch == "" {
		return errors.New("branch cannot be empty")
	}

	if strings.ContainsAny(branch, " \t\n\r") {
		return errors.New("branch cannot contain whitespace")
	}

	if strings.Contains(branch, "..") {
		return errors.New("branch cannot contain '..'")
	}

	if strings.ContainsAny(branch, "~^:?*[]@{\\") {
		return errors.New("branch contains forbidden git characters")
	}

	if strings.HasPrefix(branch, "-") || strings.HasSuffix(branch, ".lock") || strings.HasSuffix(branch, ".") {
		return errors.New("branch is not a valid git ref name")
	}

	return nil
}

// NormalizeBranch trims whitespace, removes leading/trailing slashes, and strips
// refs/heads prefixes from a branch name. It returns an empty string when the
// normalized branch would otherwise be empty.
func NormalizeBranch(branch string) string {
	branch = strings.TrimSpace(branch)
	branch = strings.Trim(branch, "/")

	if len(branch) >= len("refs/heads/") && strings.EqualFold(branch[:len("refs/heads/")], "refs/heads/") {
		branch = branch[len("refs/heads/"):]
	}

	branch = strings.TrimSpace(branch)
	branch = strings.Trim(branch, "/")

	return strings.TrimSpace(branch)
}
