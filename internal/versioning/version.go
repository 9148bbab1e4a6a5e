// Package versioning implements the dotted "major.minor.patch" numbering used
// for saved template versions.
package versioning

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrMalformed = errors.New("version must be three dot-separated integers")

type Version struct {
	Major int
	Minor int
	Patch int
}

// Initial is the version given to the first row of a template type.
var Initial = Version{Major: 1, Minor: 0, Patch: 0}

type Bump string

const (
	BumpPatch Bump = "patch"
	BumpMinor Bump = "minor"
	BumpMajor Bump = "major"
)

// ParseBump maps user input to a Bump; blank means patch.
func ParseBump(value string) (Bump, error) {
	switch Bump(strings.ToLower(strings.TrimSpace(value))) {
	case "", BumpPatch:
		return BumpPatch, nil
	case BumpMinor:
		return BumpMinor, nil
	case BumpMajor:
		return BumpMajor, nil
	default:
		return "", fmt.Errorf("unknown version bump %q", value)
	}
}

func Parse(value string) (Version, error) {
	parts := strings.Split(strings.TrimSpace(value), ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q", ErrMalformed, value)
	}
	numbers := make([]int, 3)
	for i, part := range parts {
		if part == "" || strings.TrimLeft(part, "0123456789") != "" {
			return Version{}, fmt.Errorf("%w: %q", ErrMalformed, value)
		}
		parsed, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("%w: %q", ErrMalformed, value)
		}
		numbers[i] = parsed
	}
	return Version{Major: numbers[0], Minor: numbers[1], Patch: numbers[2]}, nil
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

func (v Version) Compare(other Version) int {
	switch {
	case v.Major != other.Major:
		return sign(v.Major - other.Major)
	case v.Minor != other.Minor:
		return sign(v.Minor - other.Minor)
	default:
		return sign(v.Patch - other.Patch)
	}
}

func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// Next picks the version for a new save. base is the currently active version
// (nil when the type has no active row); taken lists every version string
// already stored for the type. Unparseable entries in taken are ignored: they
// can never collide with a well-formed result.
//
// A patch bump keeps major.minor and moves past the highest patch already
// used under it, so saving after a rollback never reuses a number.
func Next(base *Version, taken []string, bump Bump) Version {
	used := make([]Version, 0, len(taken))
	for _, raw := range taken {
		parsed, err := Parse(raw)
		if err != nil {
			continue
		}
		used = append(used, parsed)
	}

	if base == nil {
		if len(used) == 0 {
			return Initial
		}
		highest := used[0]
		for _, candidate := range used[1:] {
			if highest.Less(candidate) {
				highest = candidate
			}
		}
		base = &highest
	}

	switch bump {
	case BumpMajor:
		major := base.Major
		for _, candidate := range used {
			if candidate.Major > major {
				major = candidate.Major
			}
		}
		return Version{Major: major + 1}
	case BumpMinor:
		minor := base.Minor
		for _, candidate := range used {
			if candidate.Major == base.Major && candidate.Minor > minor {
				minor = candidate.Minor
			}
		}
		return Version{Major: base.Major, Minor: minor + 1}
	default:
		patch := base.Patch
		for _, candidate := range used {
			if candidate.Major == base.Major && candidate.Minor == base.Minor && candidate.Patch > patch {
				patch = candidate.Patch
			}
		}
		return Version{Major: base.Major, Minor: base.Minor, Patch: patch + 1}
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
