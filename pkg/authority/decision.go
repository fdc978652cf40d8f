package authority

// Reason explains why verification denied access. Reasons are user-visible
// and returned verbatim; they carry no internal state beyond the enum.
type Reason string

const (
	ReasonMalformedProof       Reason = "malformed proof"
	ReasonSubjectMismatch      Reason = "subject mismatch"
	ReasonNotFound             Reason = "not found"
	ReasonRevoked              Reason = "revoked"
	ReasonExpired              Reason = "expired"
	ReasonCapabilityNotGranted Reason = "capability not granted"
)

// Decision is the outcome of verifying a proof. Denial is an expected,
// frequent outcome, so it is a value callers branch on, not an error.
type Decision struct {
	Granted bool
	// Grantee is the authenticated accessor, taken from the live delegation
	// record. Set only when Granted.
	Grantee string
	// Reason is set only when access was denied.
	Reason Reason
}

func granted(grantee string) Decision {
	return Decision{Granted: true, Grantee: grantee}
}

func denied(reason Reason) Decision {
	return Decision{Reason: reason}
}
