package validation

import (
	"errors"
	"fmt"

	"github.com/georgepadayatti/trustval/token"
)

// Common errors
var (
	ErrNotInitialized       = errors.New("validation context is not initialized")
	ErrAlreadyInitialized   = errors.New("validation context is already initialized")
	ErrInvalidConfiguration = errors.New("invalid validation configuration")
)

// Resolution operations recorded in a ResolutionError.
const (
	OpSigningCertificate = "signing-certificate"
	OpIssuer             = "issuer"
	OpRevocation         = "revocation"
	OpRevocationData     = "revocation-data"
	OpTimestampSigner    = "timestamp-signer"
	OpTimestampData      = "timestamp-data"
	OpEvidenceRecord     = "evidence-record"
)

// ResolutionError records trust data that could not be obtained for a token.
// Resolution errors are kept as context state and never returned by Validate.
type ResolutionError struct {
	TokenID token.Identifier
	Op      string
	Err     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.TokenID, e.Op, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

var (
	errIssuerNotFound           = errors.New("no issuer certificate found")
	errSigningCertMissing       = errors.New("signing certificate not identified")
	errNoRevocationData         = errors.New("no revocation data found")
	errSignerNotFound           = errors.New("signer certificate not found")
	errSignerUnknown            = errors.New("revocation data signer unknown")
	errRevocationSignature      = errors.New("revocation data signature invalid")
	errTimestampSignature       = errors.New("timestamp signature invalid")
	errTimestampImprint         = errors.New("timestamp message imprint mismatch")
	errNoTimestampedData        = errors.New("time-stamped data unknown")
	errInvalidEmbeddedData      = errors.New("invalid embedded revocation data")
	errEvidenceRecordBroken     = errors.New("evidence record hash tree cannot be computed")
	errEvidenceRecordIncomplete = errors.New("evidence record has invalid archive timestamps")
)
