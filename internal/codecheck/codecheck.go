// Package codecheck holds the structural checks a code answer must pass
// before it can be submitted.
package codecheck

import (
	"regexp"
	"strings"
)

var (
	publicClassPattern = regexp.MustCompile(`public\s+(?:final\s+|abstract\s+)?class\s+\w+`)
	entryPointPattern  = regexp.MustCompile(
		`public\s+static\s+void\s+main\s*\(\s*(?:final\s+)?String\s*(?:\[\s*\]\s*\w+|\w+\s*\[\s*\]|\.\.\.\s*\w+)\s*\)`,
	)
)

// Issue identifies a failed structural check.
type Issue string

const (
	IssueEmpty         Issue = "empty"
	IssueNoPublicClass Issue = "missing_public_class"
	IssueNoEntryPoint  Issue = "missing_entry_point"
)

// Message is the user-facing description of the issue.
func (i Issue) Message() string {
	switch i {
	case IssueEmpty:
		return "Jawaban kode masih kosong"
	case IssueNoPublicClass:
		return "Kode harus memiliki deklarasi public class"
	case IssueNoEntryPoint:
		return "Kode harus memiliki method public static void main(String[] args)"
	default:
		return string(i)
	}
}

// HasPublicClass reports whether source declares a public class.
func HasPublicClass(source string) bool {
	return publicClassPattern.MatchString(source)
}

// HasEntryPoint reports whether source declares a conventional main method.
func HasEntryPoint(source string) bool {
	return entryPointPattern.MatchString(source)
}

// Check returns the structural issues in source. Blank source yields only IssueEmpty.
func Check(source string) []Issue {
	if strings.TrimSpace(source) == "" {
		return []Issue{IssueEmpty}
	}
	var issues []Issue
	if !HasPublicClass(source) {
		issues = append(issues, IssueNoPublicClass)
	}
	if !HasEntryPoint(source) {
		issues = append(issues, IssueNoEntryPoint)
	}
	return issues
}

// Valid reports whether source passes every structural check.
func Valid(source string) bool {
	return len(Check(source)) == 0
}
