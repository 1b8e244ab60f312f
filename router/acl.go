package router

import (
	"github.com/bmatcuk/doublestar/v4"

	"github.com/evergreen-library-system/opensrf-go/errors"
)

// ACL is an allow/deny pair of glob patterns matched against a service
// name, generalized from tools.isPathRestricted's filesystem-path glob
// check (tools/tools.go) to OpenSRF service names such as
// "opensrf.math.*". Deny is checked before allow; an empty Allow list means
// "allow everything not denied".
type ACL struct {
	Allow []string
	Deny  []string
}

// Permits reports whether service may register with / be forwarded to by
// this router.
func (a ACL) Permits(service string) (bool, error) {
	denied, err := matchesAny(service, a.Deny)
	if err != nil {
		return false, err
	}
	if denied {
		return false, nil
	}
	if len(a.Allow) == 0 {
		return true, nil
	}
	return matchesAny(service, a.Allow)
}

func matchesAny(service string, patterns []string) (bool, error) {
	for _, pattern := range patterns {
		match, err := doublestar.Match(pattern, service)
		if err != nil {
			return false, errors.Wrapf(err, "invalid service glob pattern %q", pattern)
		}
		if match {
			return true, nil
		}
	}
	return false, nil
}
