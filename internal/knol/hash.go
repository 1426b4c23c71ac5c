// Package knol identifies card content independently of where it lives.
package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// Normalize lowercases and trims each side of a card and unifies line
// endings, then joins the sides with a newline so "ab"+"c" and "a"+"bc"
// stay distinct.
func Normalize(front, back string) string {
	clean := func(part string) string {
		p := strings.ToLower(part)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return strings.TrimSpace(p)
	}
	return clean(front) + "\n" + clean(back)
}

// Hash returns the hex SHA-256 of the normalized card content.
func Hash(front, back string) string {
	sum := sha256.Sum256([]byte(Normalize(front, back)))
	return fmt.Sprintf("%x", sum)
}
