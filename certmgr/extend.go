package certmgr

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"strings"

	"github.com/certward/certward/pki"
	"github.com/certward/certward/storage"
)

var oidEmail = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

// Extend computes the derived view of a record. It never mutates the store;
// repeated calls over the same data are idempotent. Decode failures of
// individual PEM blobs are logged and skipped so the view stays partially
// usable with legacy data.
func (s *Store) Extend(rec *Record) *Details {
	return s.extend(rec, map[string]struct{}{})
}

// seen guards against signedby cycles in hand-edited data.
func (s *Store) extend(rec *Record, seen map[string]struct{}) *Details {
	d := &Details{Record: *rec}
	d.SANEntries = rec.SANList()
	d.RootPath, d.CertificatePath, d.PrivateKeyPath, d.CSRPath = recordPaths(rec.Name, rec.Type)
	d.Internal = rec.Type != TypeCertExisting && rec.Type != TypeCAExisting
	d.Issuer = s.resolveIssuer(rec, seen)

	d.ChainList = s.chainList(rec, d.Issuer)

	// Normalize stored PEM material by decode/re-encode; keep the original
	// bytes when a blob does not parse.
	if rec.PrivateKey != "" {
		if normalized, err := pki.ReencodePrivateKeyPEM(rec.PrivateKey, ""); err == nil {
			d.PrivateKey = normalized
		} else {
			s.logger.Debug("failed to normalize private key", "name", rec.Name, "err", err)
		}
	}
	if rec.CSR != "" {
		if csr, err := pki.ParseCSRPEM(rec.CSR); err == nil {
			d.CSR = pki.EncodeCSRPEM(csr.Raw)
			d.DN = dnString(csr.Subject)
		} else {
			s.logger.Debug("failed to parse CSR", "name", rec.Name, "err", err)
		}
	}

	// Validity window does not apply to CSR-only records.
	if rec.Type != TypeCertCSR && rec.Certificate != "" {
		if cert, err := pki.ParseCertificatePEM(rec.Certificate); err == nil {
			from := cert.NotBefore
			until := cert.NotAfter
			d.From = &from
			d.Until = &until
			d.DN = dnString(cert.Subject)
		} else {
			s.logger.Debug("failed to parse certificate", "name", rec.Name, "err", err)
		}
	}

	return d
}

// resolveIssuer maps a record to its issuer: a terminal tag for external,
// self-signed and pending material, or the extended parent authority.
func (s *Store) resolveIssuer(rec *Record, seen map[string]struct{}) Issuer {
	switch rec.Type {
	case TypeCertExisting, TypeCAExisting:
		return Issuer{Kind: IssuerExternal}
	case TypeCAInternal:
		return Issuer{Kind: IssuerSelfSigned}
	case TypeCertCSR:
		return Issuer{Kind: IssuerPending}
	case TypeCertInternal, TypeCAIntermediate:
		if rec.SignedBy == "" {
			return Issuer{}
		}
		if _, ok := seen[rec.ID]; ok {
			s.logger.Warn("issuer cycle detected", "name", rec.Name)
			return Issuer{}
		}
		seen[rec.ID] = struct{}{}
		parent, err := s.getRecord(storage.KindAuthority, rec.SignedBy)
		if err != nil {
			s.logger.Warn("signing authority not found", "name", rec.Name, "signedby", rec.SignedBy)
			return Issuer{}
		}
		return Issuer{Kind: IssuerSignedBy, CA: s.extend(parent, seen)}
	default:
		return Issuer{}
	}
}

// chainList collects the certificate chain. A multi-block blob is split in
// document order; otherwise the signedby references are walked upward until a
// terminal issuer. Each blob is decoded individually and skipped on failure.
func (s *Store) chainList(rec *Record, issuer Issuer) []string {
	var blobs []string
	if rec.Chain {
		blobs = pki.SplitCertificatePEM(rec.Certificate)
	} else {
		blobs = []string{rec.Certificate}
		for cur := issuer; cur.Kind == IssuerSignedBy && cur.CA != nil; cur = cur.CA.Issuer {
			blobs = append(blobs, cur.CA.Record.Certificate)
		}
	}

	chain := make([]string, 0, len(blobs))
	for _, blob := range blobs {
		if blob == "" {
			continue
		}
		cert, err := pki.ParseCertificatePEM(blob)
		if err != nil {
			s.logger.Debug("skipping undecodable chain certificate", "name", rec.Name, "err", err)
			continue
		}
		chain = append(chain, pki.EncodeCertificatePEM(cert.Raw))
	}
	return chain
}

// dnString renders a subject as a slash-joined distinguished name.
func dnString(name pkix.Name) string {
	var b strings.Builder
	add := func(label string, values ...string) {
		for _, v := range values {
			if v != "" {
				fmt.Fprintf(&b, "/%s=%s", label, v)
			}
		}
	}
	add("C", name.Country...)
	add("ST", name.Province...)
	add("L", name.Locality...)
	add("O", name.Organization...)
	add("OU", name.OrganizationalUnit...)
	add("CN", name.CommonName)
	for _, atv := range name.Names {
		if atv.Type.Equal(oidEmail) {
			if s, ok := atv.Value.(string); ok {
				add("emailAddress", s)
			}
		}
	}
	return b.String()
}
