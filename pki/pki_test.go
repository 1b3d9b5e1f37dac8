package pki_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certward/certward/pki"
)

func testSubject() pki.SubjectInfo {
	return pki.SubjectInfo{
		Country:      "US",
		State:        "TX",
		City:         "Austin",
		Organization: "Acme",
		CommonName:   "acme.example.com",
		Email:        "admin@example.com",
		SAN:          []string{"acme.example.com", "www.example.com", "192.168.0.10"},
	}
}

func TestExportPrivateKeyRoundTrip(t *testing.T) {
	key, err := pki.GenerateKey(1024)
	require.NoError(t, err)

	keyPEM, err := pki.ExportPrivateKeyPEM(key, "")
	require.NoError(t, err)
	assert.Contains(t, keyPEM, "BEGIN RSA PRIVATE KEY")

	parsed, err := pki.ParsePrivateKeyPEM(keyPEM, "")
	require.NoError(t, err)
	assert.Equal(t, key.Public(), parsed.Public())
}

func TestPassphraseProtectedKey(t *testing.T) {
	key, err := pki.GenerateKey(1024)
	require.NoError(t, err)

	keyPEM, err := pki.ExportPrivateKeyPEM(key, "s3cret")
	require.NoError(t, err)
	assert.Contains(t, keyPEM, "ENCRYPTED")

	parsed, err := pki.ParsePrivateKeyPEM(keyPEM, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, key.Public(), parsed.Public())

	_, err = pki.ParsePrivateKeyPEM(keyPEM, "wrong")
	assert.ErrorIs(t, err, pki.ErrBadPassphrase)

	_, err = pki.ParsePrivateKeyPEM("garbage", "")
	assert.ErrorIs(t, err, pki.ErrInvalidPEM)
}

func TestReencodeStripsPassphrase(t *testing.T) {
	key, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	protected, err := pki.ExportPrivateKeyPEM(key, "hunter2")
	require.NoError(t, err)

	plain, err := pki.ReencodePrivateKeyPEM(protected, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, plain, "ENCRYPTED")

	parsed, err := pki.ParsePrivateKeyPEM(plain, "")
	require.NoError(t, err)
	assert.Equal(t, key.Public(), parsed.Public())
}

func TestCreateSelfSignedCA(t *testing.T) {
	key, err := pki.GenerateKey(1024)
	require.NoError(t, err)

	info := pki.CertificateInfo{
		Subject:         testSubject(),
		KeyLength:       1024,
		DigestAlgorithm: "SHA256",
		LifetimeDays:    3650,
		Serial:          42,
	}
	certPEM, err := pki.CreateSelfSignedCA(info, key)
	require.NoError(t, err)

	cert, err := pki.ParseCertificatePEM(certPEM)
	require.NoError(t, err)
	assert.True(t, cert.IsCA)
	assert.EqualValues(t, 42, cert.SerialNumber.Int64())
	assert.Equal(t, "acme.example.com", cert.Subject.CommonName)
	assert.True(t, pki.KeyMatchesCertificate(cert, key))
}

func TestCreateCertificateSignedByCA(t *testing.T) {
	caKey, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	caPEM, err := pki.CreateSelfSignedCA(pki.CertificateInfo{
		Subject:         pki.SubjectInfo{CommonName: "Test Root", Organization: "Acme"},
		DigestAlgorithm: "SHA256",
		LifetimeDays:    3650,
		Serial:          1,
	}, caKey)
	require.NoError(t, err)
	caCert, err := pki.ParseCertificatePEM(caPEM)
	require.NoError(t, err)

	leafKey, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	info := pki.CertificateInfo{
		Subject:         testSubject(),
		DigestAlgorithm: "SHA256",
		LifetimeDays:    397,
		Serial:          2,
	}
	leafPEM, err := pki.CreateCertificate(info.Template(), caCert, leafKey.Public(), caKey)
	require.NoError(t, err)

	leaf, err := pki.ParseCertificatePEM(leafPEM)
	require.NoError(t, err)
	assert.False(t, leaf.IsCA)
	assert.Equal(t, "Test Root", leaf.Issuer.CommonName)
	require.NoError(t, leaf.CheckSignatureFrom(caCert))

	subject := pki.SubjectFromCertificate(leaf)
	assert.Equal(t, "acme.example.com", subject.CommonName)
	assert.Equal(t, "US", subject.Country)
	assert.Contains(t, subject.SAN, "www.example.com")
	assert.Contains(t, subject.SAN, "192.168.0.10")
	assert.Equal(t, "admin@example.com", subject.Email)
}

func TestCreateIntermediateCA(t *testing.T) {
	rootKey, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	rootPEM, err := pki.CreateSelfSignedCA(pki.CertificateInfo{
		Subject:         pki.SubjectInfo{CommonName: "Root"},
		DigestAlgorithm: "SHA256",
		LifetimeDays:    3650,
		Serial:          1,
	}, rootKey)
	require.NoError(t, err)
	rootCert, err := pki.ParseCertificatePEM(rootPEM)
	require.NoError(t, err)

	interKey, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	interPEM, err := pki.CreateIntermediateCA(pki.CertificateInfo{
		Subject:         pki.SubjectInfo{CommonName: "Intermediate"},
		DigestAlgorithm: "SHA256",
		LifetimeDays:    1825,
		Serial:          2,
	}, rootCert, interKey.Public(), rootKey)
	require.NoError(t, err)

	inter, err := pki.ParseCertificatePEM(interPEM)
	require.NoError(t, err)
	assert.True(t, inter.IsCA)
	assert.True(t, inter.MaxPathLenZero)
	require.NoError(t, inter.CheckSignatureFrom(rootCert))
}

func TestCSRRoundTrip(t *testing.T) {
	key, err := pki.GenerateKey(1024)
	require.NoError(t, err)

	csrPEM, err := pki.CreateCSR(pki.CertificateInfo{
		Subject:         testSubject(),
		DigestAlgorithm: "SHA256",
	}, key)
	require.NoError(t, err)

	csr, err := pki.ParseCSRPEM(csrPEM)
	require.NoError(t, err)

	subject := pki.SubjectFromCSR(csr)
	assert.Equal(t, "acme.example.com", subject.CommonName)
	assert.Equal(t, "Acme", subject.Organization)
	assert.Contains(t, subject.SAN, "192.168.0.10")
}

func TestSignCSR(t *testing.T) {
	caKey, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	caPEM, err := pki.CreateSelfSignedCA(pki.CertificateInfo{
		Subject:         pki.SubjectInfo{CommonName: "Signing CA"},
		DigestAlgorithm: "SHA256",
		LifetimeDays:    3650,
		Serial:          1,
	}, caKey)
	require.NoError(t, err)
	caCert, err := pki.ParseCertificatePEM(caPEM)
	require.NoError(t, err)

	csrKey, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	csrPEM, err := pki.CreateCSR(pki.CertificateInfo{
		Subject:         pki.SubjectInfo{CommonName: "requested.example.com"},
		DigestAlgorithm: "SHA256",
	}, csrKey)
	require.NoError(t, err)
	csr, err := pki.ParseCSRPEM(csrPEM)
	require.NoError(t, err)

	certPEM, err := pki.SignCSR(csr, caCert, caKey, 7, "SHA256")
	require.NoError(t, err)

	cert, err := pki.ParseCertificatePEM(certPEM)
	require.NoError(t, err)
	assert.EqualValues(t, 7, cert.SerialNumber.Int64())
	assert.Equal(t, "requested.example.com", cert.Subject.CommonName)
	assert.True(t, pki.KeyMatchesCertificate(cert, csrKey))
	// Signed certificates get a ten year lifetime.
	assert.WithinDuration(t, time.Now().AddDate(10, 0, 0), cert.NotAfter, 48*time.Hour)
}

func TestSplitCertificatePEM(t *testing.T) {
	key, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	first, err := pki.CreateSelfSignedCA(pki.CertificateInfo{
		Subject: pki.SubjectInfo{CommonName: "first"}, DigestAlgorithm: "SHA256", LifetimeDays: 30, Serial: 1,
	}, key)
	require.NoError(t, err)
	second, err := pki.CreateSelfSignedCA(pki.CertificateInfo{
		Subject: pki.SubjectInfo{CommonName: "second"}, DigestAlgorithm: "SHA256", LifetimeDays: 30, Serial: 2,
	}, key)
	require.NoError(t, err)

	bundle := first + second
	assert.Equal(t, 2, pki.CountCertificates(bundle))

	blobs := pki.SplitCertificatePEM(bundle)
	require.Len(t, blobs, 2)
	firstCert, err := pki.ParseCertificatePEM(blobs[0])
	require.NoError(t, err)
	assert.Equal(t, "first", firstCert.Subject.CommonName)
	secondCert, err := pki.ParseCertificatePEM(blobs[1])
	require.NoError(t, err)
	assert.Equal(t, "second", secondCert.Subject.CommonName)
}

func TestFingerprint(t *testing.T) {
	key, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	certPEM, err := pki.CreateSelfSignedCA(pki.CertificateInfo{
		Subject: pki.SubjectInfo{CommonName: "fp"}, DigestAlgorithm: "SHA256", LifetimeDays: 30, Serial: 1,
	}, key)
	require.NoError(t, err)

	fp, err := pki.Fingerprint(certPEM)
	require.NoError(t, err)
	parts := strings.Split(fp, ":")
	assert.Len(t, parts, 20)
	for _, p := range parts {
		assert.Len(t, p, 2)
	}
}

func TestSelfSignedServingCertificate(t *testing.T) {
	certPEM, keyPEM, err := pki.SelfSignedServingCertificate()
	require.NoError(t, err)

	cert, err := pki.ParseCertificatePEM(certPEM)
	require.NoError(t, err)
	assert.Equal(t, "localhost", cert.Subject.CommonName)

	key, err := pki.ParsePrivateKeyPEM(keyPEM, "")
	require.NoError(t, err)
	assert.True(t, pki.KeyMatchesCertificate(cert, key))
}
