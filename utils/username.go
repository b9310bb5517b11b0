package utils

import (
	"errors"
	"strings"

	"github.com/gosimple/unidecode"
	"golang.org/x/text/unicode/norm"
)

const (
	usernameMinLen = 6
	usernameMaxLen = 30
)

// ValidateUsername enforces the profile username rules: 6-30 characters,
// alphanumeric and dots only, no leading/trailing dot, no double dots.
func ValidateUsername(username string) error {
	if len(username) < usernameMinLen {
		return errors.New("username cannot be less than 6 characters")
	}
	if len(username) > usernameMaxLen {
		return errors.New("username cannot be more than 30 characters")
	}
	if username[0] == '.' {
		return errors.New("username cannot start with a dot")
	}
	if username[len(username)-1] == '.' {
		return errors.New("username cannot end with a dot")
	}

	var prev byte
	for i := 0; i < len(username); i++ {
		c := username[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.':
			if prev == '.' {
				return errors.New("username cannot contain double dots (..)")
			}
		default:
			return errors.New("username is limited to alphanumeric (A-Z a-z 0-9) and dots (.)")
		}
		prev = c
	}
	return nil
}

// UsernameKey folds a username to its collision key: NFKC-normalized,
// look-alike characters flattened to ASCII, lowercased. Two usernames with
// the same key are considered the same identity.
func UsernameKey(username string) string {
	folded := unidecode.Unidecode(norm.NFKC.String(username))
	return strings.ToLower(folded)
}
