package reputation

import "strings"

// TrustLevel is a 0-100 reputation score.
type TrustLevel int

const (
	NotSet                TrustLevel = 0
	KnownMalicious        TrustLevel = 1
	MostLikelyMalicious   TrustLevel = 15
	MightBeMalicious      TrustLevel = 30
	Unknown               TrustLevel = 50
	MightBeTrusted        TrustLevel = 70
	MostLikelyTrusted     TrustLevel = 85
	KnownTrusted          TrustLevel = 99
	KnownTrustedInstaller TrustLevel = 100
)

func (t TrustLevel) String() string {
	switch t {
	case NotSet:
		return "not_set"
	case KnownMalicious:
		return "known_malicious"
	case MostLikelyMalicious:
		return "most_likely_malicious"
	case MightBeMalicious:
		return "might_be_malicious"
	case Unknown:
		return "unknown"
	case MightBeTrusted:
		return "might_be_trusted"
	case MostLikelyTrusted:
		return "most_likely_trusted"
	case KnownTrusted:
		return "known_trusted"
	case KnownTrustedInstaller:
		return "known_trusted_installer"
	}
	return "custom"
}

// Hash types a record may carry.
const (
	HashMD5    = "md5"
	HashSHA1   = "sha1"
	HashSHA256 = "sha256"
)

// Provider identifiers used by downstream reputation consumers.
const (
	FileProviderEnterprise = 3
	CertProviderEnterprise = 4
)

// Sandbox verdicts reported by the feed.
const (
	VerdictThreat = "threat"
	VerdictClean  = "clean"
)

// FromVerdict maps a sandbox verdict to a trust level. ok is false for
// empty or unrecognised verdicts.
func FromVerdict(sandboxStatus string) (TrustLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(sandboxStatus)) {
	case VerdictThreat:
		return KnownMalicious, true
	case VerdictClean:
		return KnownTrusted, true
	}
	return NotSet, false
}
