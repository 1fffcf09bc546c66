package constraint

// MessageTag identifies a report message. Check tags name the question a
// check answers; failure tags name the negative answer.
type MessageTag string

const (
	MsgFormatCompliant         MessageTag = "format-compliant"
	MsgExtendedKeyUsage        MessageTag = "extended-key-usage"
	MsgQCLegislation           MessageTag = "qc-legislation"
	MsgTitle                   MessageTag = "title"
	MsgKeyUsage                MessageTag = "key-usage"
	MsgCertificateNotExpired   MessageTag = "certificate-not-expired"
	MsgCertificateNotRevoked   MessageTag = "certificate-not-revoked"
	MsgRevocationDataAvailable MessageTag = "revocation-data-available"
	MsgRevocationFresh         MessageTag = "revocation-fresh"
	MsgTrustedChain            MessageTag = "trusted-chain"
	MsgSigningCertificateFound MessageTag = "signing-certificate-found"
	MsgTimestampsValid         MessageTag = "timestamps-valid"
	MsgMessageImprint          MessageTag = "message-imprint"
	MsgSignatureIntact         MessageTag = "signature-intact"

	ErrFormatNotCompliant       MessageTag = "format-compliant.failed"
	ErrExtendedKeyUsage         MessageTag = "extended-key-usage.failed"
	ErrQCLegislation            MessageTag = "qc-legislation.failed"
	ErrTitle                    MessageTag = "title.failed"
	ErrKeyUsage                 MessageTag = "key-usage.failed"
	ErrCertificateExpired       MessageTag = "certificate-not-expired.failed"
	ErrCertificateRevoked       MessageTag = "certificate-not-revoked.failed"
	ErrRevocationDataMissing    MessageTag = "revocation-data-available.failed"
	ErrRevocationNotFresh       MessageTag = "revocation-fresh.failed"
	ErrChainNotTrusted          MessageTag = "trusted-chain.failed"
	ErrSigningCertificateAbsent MessageTag = "signing-certificate-found.failed"
	ErrTimestampsInvalid        MessageTag = "timestamps-valid.failed"
	ErrMessageImprint           MessageTag = "message-imprint.failed"
	ErrSignatureIntact          MessageTag = "signature-intact.failed"
	ErrPolicyProcessing         MessageTag = "policy-processing.failed"
)

var englishMessages = map[MessageTag]string{
	MsgFormatCompliant:         "Is the document format compliant?",
	MsgExtendedKeyUsage:        "Does the certificate have an accepted extended key usage?",
	MsgQCLegislation:           "Is the QC legislation of the certificate accepted?",
	MsgTitle:                   "Is the title of the certificate subject accepted?",
	MsgKeyUsage:                "Does the certificate have an accepted key usage?",
	MsgCertificateNotExpired:   "Is the certificate within its validity range?",
	MsgCertificateNotRevoked:   "Is the certificate not revoked?",
	MsgRevocationDataAvailable: "Is revocation data available for the certificate?",
	MsgRevocationFresh:         "Is the revocation data fresh?",
	MsgTrustedChain:            "Does the certificate chain reach a trust anchor?",
	MsgSigningCertificateFound: "Is the signing certificate identified?",
	MsgTimestampsValid:         "Are the timestamps valid?",
	MsgMessageImprint:          "Does the message imprint match the time-stamped data?",
	MsgSignatureIntact:         "Is the signature cryptographically intact?",

	ErrFormatNotCompliant:       "The document format is not compliant!",
	ErrExtendedKeyUsage:         "The certificate has no accepted extended key usage!",
	ErrQCLegislation:            "The QC legislation of the certificate is not accepted!",
	ErrTitle:                    "The title of the certificate subject is not accepted!",
	ErrKeyUsage:                 "The certificate has no accepted key usage!",
	ErrCertificateExpired:       "The certificate is not within its validity range!",
	ErrCertificateRevoked:       "The certificate is revoked!",
	ErrRevocationDataMissing:    "No revocation data is available for the certificate!",
	ErrRevocationNotFresh:       "The revocation data is not fresh!",
	ErrChainNotTrusted:          "The certificate chain does not reach a trust anchor!",
	ErrSigningCertificateAbsent: "The signing certificate is not identified!",
	ErrTimestampsInvalid:        "At least one timestamp is invalid!",
	ErrMessageImprint:           "The message imprint does not match the time-stamped data!",
	ErrSignatureIntact:          "The signature is not intact!",
	ErrPolicyProcessing:         "The check could not be processed!",
}
