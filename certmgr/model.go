// Package certmgr manages the lifecycle of certificates and certificate
// authorities: creation workflows, derived read views, hierarchy-wide serial
// allocation, CSR signing and deletion with ACME revocation. Records live in
// a storage.Repository; the crypto heavy lifting is done by package pki.
package certmgr

import (
	"path"
	"regexp"
	"strings"
	"time"
)

// Filesystem roots under which certificate material is exported for
// consumption by other services.
const (
	CertRootPath = "/etc/certificates"
	CARootPath   = "/etc/certificates/CA"
)

// RecordType discriminates the stored record variants. Certificate records
// use the Cert* values, authority records the CA* values.
type RecordType string

const (
	TypeCertExisting RecordType = "CERT_EXISTING"
	TypeCertInternal RecordType = "CERT_INTERNAL"
	TypeCertCSR      RecordType = "CERT_CSR"

	TypeCAExisting     RecordType = "CA_EXISTING"
	TypeCAInternal     RecordType = "CA_INTERNAL"
	TypeCAIntermediate RecordType = "CA_INTERMEDIATE"
)

// IsCA reports whether the type belongs to a certificate authority record.
func (t RecordType) IsCA() bool {
	switch t {
	case TypeCAExisting, TypeCAInternal, TypeCAIntermediate:
		return true
	default:
		return false
	}
}

// Reserved names that can never be used for a record: they double as issuer
// tags in the derived view.
const (
	issuerTagExternal   = "external"
	issuerTagSelfSigned = "self-signed"
	issuerTagPending    = "external - signature pending"
)

var reservedNames = map[string]struct{}{
	issuerTagExternal:   {},
	issuerTagSelfSigned: {},
	issuerTagPending:    {},
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ACMEMeta is the ACME issuance metadata attached to certificates obtained
// through an ACME directory.
type ACMEMeta struct {
	// RegistrationID references the persisted account registration.
	RegistrationID string `json:"registration_id"`
	// DirectoryURL is the ACME directory the certificate was issued from.
	DirectoryURL string `json:"directory_url"`
	// URI is the resource URI of the finalized order.
	URI string `json:"uri"`
	// DomainAuthenticators maps each CSR domain to a DNS authenticator ID.
	DomainAuthenticators map[string]string `json:"domain_authenticators"`
	// RenewDays is the remaining-validity threshold that triggers renewal.
	RenewDays int `json:"renew_days"`
}

// Record is the persisted shape of a certificate or certificate authority.
// Everything derived from it (issuer resolution, chain, validity window, DN)
// lives on Details and is computed per read, never stored.
type Record struct {
	ID   string     `json:"id"`
	Name string     `json:"name"`
	Type RecordType `json:"type"`

	Certificate string `json:"certificate,omitempty"`
	PrivateKey  string `json:"privatekey,omitempty"`
	CSR         string `json:"csr,omitempty"`

	// Serial is unique within the record's top-level CA subtree. Zero means
	// a legacy record that never had one assigned.
	Serial int64 `json:"serial,omitempty"`

	// SignedBy references the issuing authority record by ID. Weak
	// reference: empty for externally issued and self-signed material.
	SignedBy string `json:"signedby,omitempty"`

	Country            string `json:"country,omitempty"`
	State              string `json:"state,omitempty"`
	City               string `json:"city,omitempty"`
	Organization       string `json:"organization,omitempty"`
	OrganizationalUnit string `json:"organizational_unit,omitempty"`
	CommonName         string `json:"common,omitempty"`
	Email              string `json:"email,omitempty"`

	// SAN is stored as a single whitespace-normalized string and exposed as
	// a list on Details.
	SAN string `json:"san,omitempty"`

	// Chain is true when Certificate holds more than one PEM block.
	Chain bool `json:"chain"`

	DigestAlgorithm string `json:"digest_algorithm,omitempty"`
	KeyLength       int    `json:"key_length,omitempty"`
	Lifetime        int    `json:"lifetime,omitempty"`

	// ACME is set only for certificates obtained through an ACME directory.
	ACME *ACMEMeta `json:"acme,omitempty"`
}

// SANList splits the stored SAN string back into its entries.
func (r *Record) SANList() []string {
	return strings.Fields(r.SAN)
}

// NormalizeSAN joins SAN entries into the stored single-string form,
// normalizing comma separators and surrounding whitespace.
func NormalizeSAN(entries []string) string {
	var out []string
	for _, entry := range entries {
		for _, part := range strings.FieldsFunc(entry, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		}) {
			out = append(out, part)
		}
	}
	return strings.Join(out, " ")
}

// IssuerKind tags the resolved issuer of a record.
type IssuerKind string

const (
	// IssuerExternal marks imported material issued outside this system.
	IssuerExternal IssuerKind = IssuerKind(issuerTagExternal)
	// IssuerSelfSigned marks internal root CAs.
	IssuerSelfSigned IssuerKind = IssuerKind(issuerTagSelfSigned)
	// IssuerPending marks CSR records awaiting an external signature.
	IssuerPending IssuerKind = IssuerKind(issuerTagPending)
	// IssuerSignedBy marks records signed by an authority known to this
	// system; Issuer.CA carries the resolved parent.
	IssuerSignedBy IssuerKind = "signed-by"
)

// Issuer is the resolved issuer of a record: one of the three terminal tags,
// or a reference to the signing authority's derived view.
type Issuer struct {
	Kind IssuerKind
	// CA is set only when Kind is IssuerSignedBy.
	CA *Details
}

// String returns the issuer tag, or the signing authority's name.
func (i Issuer) String() string {
	if i.Kind == IssuerSignedBy {
		if i.CA == nil {
			return ""
		}
		return i.CA.Name
	}
	return string(i.Kind)
}

// Details is the derived, read-only view of a record: the stored fields with
// normalized PEM blobs plus everything computed by the extender.
type Details struct {
	Record

	Issuer Issuer `json:"-"`

	// ChainList holds the decoded PEM certificates along the issuance path,
	// outermost (leaf) first. Blocks that fail to decode are skipped.
	ChainList []string `json:"chain_list"`

	RootPath        string `json:"root_path"`
	CertificatePath string `json:"certificate_path"`
	PrivateKeyPath  string `json:"privatekey_path"`
	CSRPath         string `json:"csr_path"`

	// From/Until bound the validity window; nil for CSR-only records.
	From  *time.Time `json:"from,omitempty"`
	Until *time.Time `json:"until,omitempty"`

	// DN is the slash-joined subject, e.g. /C=US/O=Acme/CN=host.
	DN string `json:"DN,omitempty"`

	// SANEntries is the stored SAN string split into its entries.
	SANEntries []string `json:"san_entries"`

	// Internal is false for imported (existing-type) material.
	Internal bool `json:"internal"`
}

// paths derives the export paths for a record of the given name and type.
func recordPaths(name string, t RecordType) (root, cert, key, csr string) {
	root = CertRootPath
	if t.IsCA() {
		root = CARootPath
	}
	return root,
		path.Join(root, name+".crt"),
		path.Join(root, name+".key"),
		path.Join(root, name+".csr")
}
