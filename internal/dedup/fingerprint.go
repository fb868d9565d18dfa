// Package dedup detects content that already exists elsewhere in a project and
// resolves the references that replace it.
package dedup

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/hyperjump/scribe/pkg/utils"
)

const prefix = "sha256:"

// Normalize lower-cases content and collapses whitespace runs.
func Normalize(content string) string {
	return strings.ToLower(utils.CollapseWhitespace(content))
}

// Fingerprint returns a stable id for content. Texts that differ only in case
// or whitespace share a fingerprint; any other difference does not.
func Fingerprint(content string) string {
	hash := sha256.Sum256([]byte(Normalize(content)))
	return prefix + hex.EncodeToString(hash[:])
}
