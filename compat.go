package cmdrdata

import (
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/mod/semver"
)

const (
	genaiModulePath = "google.golang.org/genai"

	// Supported SDK range. The upper bound is advisory: newer versions
	// produce a warning, not a failure.
	minGenaiVersion        = "v1.0.0"
	lastTestedGenaiVersion = "v1.12.0"
)

// CompatibilityInfo describes the detected Google Gen AI SDK version and
// whether this middleware supports it.
type CompatibilityInfo struct {
	Library   string
	Version   string
	Supported bool
	// Note is non-empty when the SDK is missing, below the minimum, or
	// newer than the last tested version.
	Note string
}

// CheckCompatibility inspects the running binary's build info for the Google
// Gen AI SDK and reports whether the detected version is in the supported
// range. Advisory only; no code path is disabled on mismatch.
func CheckCompatibility() CompatibilityInfo {
	return checkCompatibility(detectGenaiVersion())
}

// IsSupported is the boolean convenience form of CheckCompatibility.
func IsSupported() bool {
	return CheckCompatibility().Supported
}

func detectGenaiVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, dep := range info.Deps {
		if dep.Path == genaiModulePath {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return ""
}

func checkCompatibility(version string) CompatibilityInfo {
	info := CompatibilityInfo{Library: genaiModulePath, Version: version}
	switch {
	case version == "":
		info.Note = fmt.Sprintf("%s not found in build info", genaiModulePath)
	case !semver.IsValid(version):
		info.Note = fmt.Sprintf("unrecognized version %q", version)
	case semver.Compare(version, minGenaiVersion) < 0:
		info.Note = fmt.Sprintf("version %s is below minimum supported %s", version, minGenaiVersion)
	case semver.Compare(version, lastTestedGenaiVersion) > 0:
		info.Supported = true
		info.Note = fmt.Sprintf("version %s is newer than last tested %s", version, lastTestedGenaiVersion)
	default:
		info.Supported = true
	}
	return info
}

var compatOnce sync.Once

// warnCompatibilityOnce emits a single advisory warning at first wrap when
// the detected SDK version is missing, unsupported, or untested.
func warnCompatibilityOnce(logger *Logger) {
	compatOnce.Do(func() {
		if logger == nil {
			logger = defaultLogger
		}
		if info := CheckCompatibility(); info.Note != "" {
			logger.Warn("SDK compatibility: %s", info.Note)
		}
	})
}
