package types

import "time"

// Delegation is the authorization record granting a set of capabilities over
// one content object to one grantee for a bounded period.
//
// The identity key is (SubjectID, Grantee): issuing a second delegation for
// the same pair replaces the prior one. There is no delegation stacking.
type Delegation struct {
	// SubjectID is the content identifier the delegation applies to.
	SubjectID string `json:"subjectId"`

	// Granter is the identity that issued the grant. It must equal the
	// object's owner at issuance time.
	Granter string `json:"granter"`

	// Grantee is the identity receiving the grant.
	Grantee string `json:"grantee"`

	// Capabilities is the non-empty set of granted operations.
	Capabilities []Capability `json:"capabilities"`

	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`

	// Revoked is monotonic: it transitions false -> true exactly once and is
	// never reset. Revoked records are retained, not deleted.
	Revoked bool `json:"revoked"`
}

// HasCapability reports whether the delegation grants the capability.
func (d Delegation) HasCapability(c Capability) bool {
	for _, granted := range d.Capabilities {
		if granted == c {
			return true
		}
	}
	return false
}

// ActiveAt reports whether the delegation is live at the given instant.
// A delegation is expired at its ExpiresAt instant, not one unit after.
func (d Delegation) ActiveAt(now time.Time) bool {
	return !d.Revoked && now.Before(d.ExpiresAt)
}
