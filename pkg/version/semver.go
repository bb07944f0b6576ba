package version

import "github.com/Masterminds/semver/v3"

// Parsed returns the parsed semantic version, or nil for builds such as
// "dev".
func Parsed() *semver.Version {
	v, err := semver.NewVersion(Version)
	if err != nil {
		return nil
	}
	return v
}

// IsPrerelease reports whether the build is a pre-release.
func IsPrerelease() bool {
	v := Parsed()
	return v != nil && v.Prerelease() != ""
}

// IsDevBuild reports whether the build has no valid semver.
func IsDevBuild() bool {
	return Parsed() == nil
}

// Satisfies reports whether the build meets a constraint such as ">= 1.2".
// The sync service advertises its minimum client version this way. Dev
// builds satisfy every constraint; malformed constraints satisfy none.
func Satisfies(constraint string) bool {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false
	}
	v := Parsed()
	if v == nil {
		return true
	}
	return c.Check(v)
}
