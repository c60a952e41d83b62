package session

import (
	"fmt"
	"regexp"
	"strings"
)

// Session names become directory names under the data dir, so the rules
// are stricter than what the filesystem would accept: lowercase, must
// start with a letter or digit, max 64 characters.
var nameRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// reservedNames are fixed entries of the data dir that a session
// directory must never shadow.
var reservedNames = map[string]struct{}{
	"config":   {},
	"sessions": {},
	"logs":     {},
}

// ValidateName checks that name conforms to session naming rules.
func ValidateName(name string) error {
	if _, ok := reservedNames[name]; ok {
		return fmt.Errorf("session name %q is reserved", name)
	}
	if strings.HasSuffix(name, "-") || strings.HasSuffix(name, "_") {
		return fmt.Errorf("session name %q must not end with a separator", name)
	}
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("session name %q must start with a letter or digit and contain only lowercase letters, digits, '-' and '_' (max 64 chars)", name)
	}
	return nil
}
