package middleware

import (
	"fmt"
	"regexp"
	"strings"
)

// Input validation and sanitization utilities for webhook payload fields.

var (
	repoFullNameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,100}/[A-Za-z0-9_.-]{1,100}$`)
	commitSHARe    = regexp.MustCompile(`^[0-9a-f]{7,64}$`)
)

// ValidateRepoFullName checks the owner/name shape GitHub sends.
func ValidateRepoFullName(repo string) error {
	if repo == "" {
		return fmt.Errorf("repository name cannot be empty")
	}
	if !repoFullNameRe.MatchString(repo) {
		return fmt.Errorf("invalid repository name: %s", repo)
	}
	return nil
}

// ValidateSHA checks a lowercase hex commit id.
func ValidateSHA(sha string) error {
	if sha == "" {
		return fmt.Errorf("head SHA cannot be empty")
	}
	if !commitSHARe.MatchString(strings.ToLower(sha)) {
		return fmt.Errorf("invalid commit SHA: %s", sha)
	}
	return nil
}

// ValidatePRNumber rejects non-positive pull request numbers.
func ValidatePRNumber(n int) error {
	if n <= 0 {
		return fmt.Errorf("invalid pull request number: %d", n)
	}
	return nil
}

// ValidateInstallationID rejects non-positive installation ids.
func ValidateInstallationID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("invalid installation id: %d", id)
	}
	return nil
}

// ClampLimit bounds pagination limits to [1,100], defaulting to 20.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters
	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}

	return strings.TrimSpace(result.String())
}
