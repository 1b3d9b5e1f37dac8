package certmgr_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certward/certward/certmgr"
	"github.com/certward/certward/pki"
)

func TestCreateInternalCertificate(t *testing.T) {
	ts := newTestServices(t)
	ca := ts.createRootCA(t, "root")

	cert := ts.createInternalCert(t, "web", ca.ID)

	assert.Equal(t, certmgr.TypeCertInternal, cert.Type)
	assert.Equal(t, ca.ID, cert.SignedBy)
	assert.Greater(t, cert.Serial, ca.Serial)

	parsed, err := pki.ParseCertificatePEM(cert.Certificate)
	require.NoError(t, err)
	key, err := pki.ParsePrivateKeyPEM(cert.PrivateKey, "")
	require.NoError(t, err)
	assert.True(t, pki.KeyMatchesCertificate(parsed, key))
	assert.Equal(t, "web.example.com", parsed.Subject.CommonName)

	caCert, err := pki.ParseCertificatePEM(ca.Certificate)
	require.NoError(t, err)
	require.NoError(t, parsed.CheckSignatureFrom(caCert))
}

func TestCreateInternalCertificatesGetDistinctSerials(t *testing.T) {
	ts := newTestServices(t)
	ca := ts.createRootCA(t, "root")

	first := ts.createInternalCert(t, "one", ca.ID)
	second := ts.createInternalCert(t, "two", ca.ID)

	assert.Equal(t, first.Serial+1, second.Serial)
}

func TestCreateImportedCertificate(t *testing.T) {
	ts := newTestServices(t)
	certPEM, keyPEM := selfSignedPair(t, "imported.example.com", 77, 365)

	details, err := ts.certs.Create(t.Context(), certmgr.CertificateCreateRequest{
		Name:        "imported",
		CreateType:  certmgr.CertCreateImported,
		Certificate: certPEM,
		PrivateKey:  keyPEM,
	}, nil)
	require.NoError(t, err)

	// Subject and serial are decoded from the certificate itself.
	assert.Equal(t, certmgr.TypeCertExisting, details.Type)
	assert.EqualValues(t, 77, details.Serial)
	assert.Equal(t, "imported.example.com", details.CommonName)
	assert.Equal(t, "Ext", details.Organization)
	assert.False(t, details.Internal)
	assert.False(t, details.Chain)
}

func TestCreateImportedCertificateStripsPassphrase(t *testing.T) {
	ts := newTestServices(t)
	certPEM, keyPEM := selfSignedPair(t, "locked.example.com", 1, 365)

	key, err := pki.ParsePrivateKeyPEM(keyPEM, "")
	require.NoError(t, err)
	protected, err := pki.ExportPrivateKeyPEM(key, "s3cret")
	require.NoError(t, err)

	details, err := ts.certs.Create(t.Context(), certmgr.CertificateCreateRequest{
		Name:        "locked",
		CreateType:  certmgr.CertCreateImported,
		Certificate: certPEM,
		PrivateKey:  protected,
		Passphrase:  "s3cret",
	}, nil)
	require.NoError(t, err)

	_, err = pki.ParsePrivateKeyPEM(details.PrivateKey, "")
	require.NoError(t, err)
}

func TestCreateImportedCertificateRequiresKey(t *testing.T) {
	ts := newTestServices(t)
	certPEM, _ := selfSignedPair(t, "nokey.example.com", 1, 365)

	_, err := ts.certs.Create(t.Context(), certmgr.CertificateCreateRequest{
		Name:        "nokey",
		CreateType:  certmgr.CertCreateImported,
		Certificate: certPEM,
	}, nil)
	verrs, ok := certmgr.AsValidationErrors(err)
	require.True(t, ok)
	assert.Contains(t, verrs.Error(), "private key is required")
}

func TestCreateRejectsUnknownCreateType(t *testing.T) {
	ts := newTestServices(t)

	// "CERTIFICATE_CREATE" is not a creation variant; only the CSR-signing
	// flow files pre-built material, and that path is not request-driven.
	for _, createType := range []string{"CERTIFICATE_CREATE", "BOGUS"} {
		_, err := ts.certs.Create(t.Context(), certmgr.CertificateCreateRequest{
			Name:       "sneaky",
			CreateType: certmgr.CertificateCreateType(createType),
		}, nil)
		verrs, ok := certmgr.AsValidationErrors(err)
		require.True(t, ok, "create_type %s", createType)
		assert.Contains(t, verrs.Error(), "create_type")
	}

	recs, err := ts.store.Certificates()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestCreateImportedCSRReusesStoredKey(t *testing.T) {
	ts := newTestServices(t)

	csrRec, err := ts.certs.Create(t.Context(), certmgr.CertificateCreateRequest{
		Name:            "request",
		CreateType:      certmgr.CertCreateCSR,
		KeyLength:       1024,
		DigestAlgorithm: "SHA256",
		CommonName:      "request.example.com",
	}, nil)
	require.NoError(t, err)

	// Sign the CSR externally and import the result against the CSR record.
	caKey, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	caPEM, err := pki.CreateSelfSignedCA(pki.CertificateInfo{
		Subject:         pki.SubjectInfo{CommonName: "External CA"},
		DigestAlgorithm: "SHA256",
		LifetimeDays:    365,
		Serial:          1,
	}, caKey)
	require.NoError(t, err)
	caCert, err := pki.ParseCertificatePEM(caPEM)
	require.NoError(t, err)
	csr, err := pki.ParseCSRPEM(csrRec.CSR)
	require.NoError(t, err)
	signedPEM, err := pki.SignCSR(csr, caCert, caKey, 2, "SHA256")
	require.NoError(t, err)

	details, err := ts.certs.Create(t.Context(), certmgr.CertificateCreateRequest{
		Name:        "completed",
		CreateType:  certmgr.CertCreateImported,
		CSRID:       csrRec.ID,
		Certificate: signedPEM,
	}, nil)
	require.NoError(t, err)

	parsed, err := pki.ParseCertificatePEM(details.Certificate)
	require.NoError(t, err)
	key, err := pki.ParsePrivateKeyPEM(details.PrivateKey, "")
	require.NoError(t, err)
	assert.True(t, pki.KeyMatchesCertificate(parsed, key))
}

func TestCreateImportedCSR(t *testing.T) {
	ts := newTestServices(t)

	key, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	csrPEM, err := pki.CreateCSR(pki.CertificateInfo{
		Subject: pki.SubjectInfo{
			Country: "US", Organization: "Ext", CommonName: "csr.example.com",
			SAN: []string{"csr.example.com"},
		},
		DigestAlgorithm: "SHA256",
	}, key)
	require.NoError(t, err)
	keyPEM, err := pki.ExportPrivateKeyPEM(key, "")
	require.NoError(t, err)

	details, err := ts.certs.Create(t.Context(), certmgr.CertificateCreateRequest{
		Name:       "importedcsr",
		CreateType: certmgr.CertCreateImportedCSR,
		CSR:        csrPEM,
		PrivateKey: keyPEM,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, certmgr.TypeCertCSR, details.Type)
	assert.Equal(t, "csr.example.com", details.CommonName)
	assert.Equal(t, "Ext", details.Organization)
	assert.Equal(t, certmgr.IssuerPending, details.Issuer.Kind)
}

func TestCreateACMECertificate(t *testing.T) {
	certPEM, _ := selfSignedPair(t, "acme.example.com", 1, 90)
	issuer := &fakeIssuer{
		issueFn: func(_ context.Context, req certmgr.ACMEIssueRequest) (*certmgr.ACMEIssueResult, error) {
			return &certmgr.ACMEIssueResult{
				RegistrationID: "reg-1",
				DirectoryURL:   req.DirectoryURL,
				OrderURI:       "https://acme.test/order/1",
				FullChainPEM:   certPEM,
			}, nil
		},
	}
	ts := newTestServices(t, certmgr.WithACMEIssuer(issuer))

	csrRec, err := ts.certs.Create(t.Context(), certmgr.CertificateCreateRequest{
		Name:            "acmecsr",
		CreateType:      certmgr.CertCreateCSR,
		KeyLength:       1024,
		DigestAlgorithm: "SHA256",
		CommonName:      "acme.example.com",
	}, nil)
	require.NoError(t, err)

	details, err := ts.certs.Create(t.Context(), certmgr.CertificateCreateRequest{
		Name:             "acmecert",
		CreateType:       certmgr.CertCreateACME,
		TOS:              true,
		CSRID:            csrRec.ID,
		ACMEDirectoryURI: "https://acme.test/directory",
		DNSMapping:       map[string]string{"acme.example.com": "auth-1"},
		RenewDays:        10,
	}, nil)
	require.NoError(t, err)

	require.NotNil(t, details.ACME)
	assert.Equal(t, "reg-1", details.ACME.RegistrationID)
	assert.Equal(t, "https://acme.test/order/1", details.ACME.URI)
	assert.Equal(t, 10, details.ACME.RenewDays)
	assert.Equal(t, "auth-1", details.ACME.DomainAuthenticators["acme.example.com"])

	require.Len(t, issuer.issued, 1)
	assert.Contains(t, issuer.issued[0].Domains, "acme.example.com")
	assert.True(t, issuer.issued[0].TOS)
}

func TestUpdateRenamesOnly(t *testing.T) {
	ts := newTestServices(t)
	ca := ts.createRootCA(t, "root")
	cert := ts.createInternalCert(t, "before", ca.ID)

	updated, err := ts.certs.Update(t.Context(), cert.ID, "after")
	require.NoError(t, err)
	assert.Equal(t, "after", updated.Name)
	assert.Equal(t, cert.Certificate, updated.Certificate)

	_, err = ts.certs.Update(t.Context(), cert.ID, "external")
	_, ok := certmgr.AsValidationErrors(err)
	assert.True(t, ok)
}

func TestDeleteServingCertificateRejected(t *testing.T) {
	ts := newTestServices(t)

	serving, err := ts.certs.EnsureServingCertificate(t.Context())
	require.NoError(t, err)

	err = ts.certs.Delete(t.Context(), serving.ID, false)
	assert.ErrorIs(t, err, certmgr.ErrServingCertificate)

	// Still present.
	_, err = ts.store.Certificate(serving.ID)
	assert.NoError(t, err)
}

func TestDeleteACMERevokesFirst(t *testing.T) {
	certPEM, keyPEM := selfSignedPair(t, "revoked.example.com", 1, 90)
	issuer := &fakeIssuer{}
	ts := newTestServices(t, certmgr.WithACMEIssuer(issuer))

	id := insertRecord(t, ts.store, &certmgr.Record{
		Name: "acme", Type: certmgr.TypeCertExisting,
		Certificate: certPEM, PrivateKey: keyPEM,
		ACME: &certmgr.ACMEMeta{RegistrationID: "reg-9", RenewDays: 10},
	})

	require.NoError(t, ts.certs.Delete(t.Context(), id, false))
	assert.Equal(t, []string{"reg-9"}, issuer.revoked)
}

func TestDeleteACMERevocationFailure(t *testing.T) {
	certPEM, keyPEM := selfSignedPair(t, "stuck.example.com", 1, 90)
	issuer := &fakeIssuer{revokeErr: errors.New("directory unreachable")}
	ts := newTestServices(t, certmgr.WithACMEIssuer(issuer))

	id := insertRecord(t, ts.store, &certmgr.Record{
		Name: "stuck", Type: certmgr.TypeCertExisting,
		Certificate: certPEM, PrivateKey: keyPEM,
		ACME: &certmgr.ACMEMeta{RegistrationID: "reg-9", RenewDays: 10},
	})

	err := ts.certs.Delete(t.Context(), id, false)
	assert.ErrorIs(t, err, certmgr.ErrRevokeFailed)
	_, err = ts.store.Certificate(id)
	assert.NoError(t, err)

	// Force bypasses the failed revocation.
	require.NoError(t, ts.certs.Delete(t.Context(), id, true))
	_, err = ts.store.Certificate(id)
	assert.Error(t, err)
}

func TestRemoveAuthenticatorScrubsMappings(t *testing.T) {
	certPEM, keyPEM := selfSignedPair(t, "scrub.example.com", 1, 90)
	ts := newTestServices(t)

	id := insertRecord(t, ts.store, &certmgr.Record{
		Name: "scrub", Type: certmgr.TypeCertExisting,
		Certificate: certPEM, PrivateKey: keyPEM,
		ACME: &certmgr.ACMEMeta{
			RegistrationID: "reg-1",
			DomainAuthenticators: map[string]string{
				"scrub.example.com": "auth-gone",
				"keep.example.com":  "auth-keep",
			},
			RenewDays: 10,
		},
	})

	require.NoError(t, ts.certs.RemoveAuthenticator(t.Context(), "auth-gone"))

	details, err := ts.store.Certificate(id)
	require.NoError(t, err)
	assert.NotContains(t, details.ACME.DomainAuthenticators, "scrub.example.com")
	assert.Equal(t, "auth-keep", details.ACME.DomainAuthenticators["keep.example.com"])
}

func TestFingerprint(t *testing.T) {
	ts := newTestServices(t)
	ca := ts.createRootCA(t, "root")
	cert := ts.createInternalCert(t, "fp", ca.ID)

	fp, err := ts.certs.Fingerprint(cert.ID)
	require.NoError(t, err)
	assert.Regexp(t, `^([0-9A-F]{2}:){19}[0-9A-F]{2}$`, fp)
}
