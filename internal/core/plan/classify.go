package plan

import "strings"

// =============================================================================
// Failure Classification
// =============================================================================

// buildFailureMarkers are substrings that identify the image build phase of
// compose up as the failure site. Matched case-insensitively.
var buildFailureMarkers = []string{
	"failed to solve",
	"failed to build",
	"dockerfile",
	"build path",
	"pull access denied",
	"manifest unknown",
	"returned a non-zero code",
	"did not complete successfully",
}

// startFailureMarkers identify failures after images built, while compose
// was creating or starting containers.
var startFailureMarkers = []string{
	"port is already allocated",
	"bind for",
	"driver failed programming",
	"oci runtime",
	"failed to start",
	"error while creating mount",
	"no such container",
	"network not found",
}

// FailureClass maps a failed step to its error class. Startup failures are
// refined by Classify since compose up covers both the build and the start
// phase; every other kind has a fixed class.
func (k StepKind) FailureClass(output string) error {
	switch k {
	case StepCheckDir, StepTrustDir, StepPull:
		return ErrFetch
	case StepReadManifest:
		return ErrManifest
	case StepTeardown:
		return ErrTeardown
	case StepStartup:
		return Classify(output)
	case StepVerify:
		return ErrVerify
	default:
		return ErrStart
	}
}

// Classify decides whether a compose up failure happened while building
// images or while starting containers, based on the tool output. Build
// markers win over start markers because daemon errors ("pull access
// denied") surface during builds too. Unrecognized output is reported as a
// build failure: with --build that is the phase that runs first and fails
// most.
func Classify(output string) error {
	lower := strings.ToLower(output)

	for _, marker := range buildFailureMarkers {
		if strings.Contains(lower, marker) {
			return ErrBuild
		}
	}
	for _, marker := range startFailureMarkers {
		if strings.Contains(lower, marker) {
			return ErrStart
		}
	}
	return ErrBuild
}
