package certmgr_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/certward/certward/certmgr"
	"github.com/certward/certward/pki"
	"github.com/certward/certward/storage/memory"
)

func newTestStore(t *testing.T) *certmgr.Store {
	t.Helper()
	return certmgr.NewStore(memory.NewRepository(), slog.Default())
}

type testServices struct {
	store *certmgr.Store
	certs *certmgr.CertificateService
	cas   *certmgr.AuthorityService
}

func newTestServices(t *testing.T, opts ...certmgr.CertificateOption) *testServices {
	t.Helper()
	store := newTestStore(t)
	certs := certmgr.NewCertificateService(store, opts...)
	cas := certmgr.NewAuthorityService(store, certs)
	return &testServices{store: store, certs: certs, cas: cas}
}

func (ts *testServices) createRootCA(t *testing.T, name string) *certmgr.Details {
	t.Helper()
	ca, err := ts.cas.Create(t.Context(), certmgr.AuthorityCreateRequest{
		Name:            name,
		CreateType:      certmgr.CACreateInternal,
		KeyLength:       1024,
		DigestAlgorithm: "SHA256",
		Lifetime:        3650,
		Country:         "US",
		Organization:    "Acme",
		CommonName:      name + ".example.com",
	})
	require.NoError(t, err)
	return ca
}

func (ts *testServices) createInternalCert(t *testing.T, name, caID string) *certmgr.Details {
	t.Helper()
	cert, err := ts.certs.Create(t.Context(), certmgr.CertificateCreateRequest{
		Name:            name,
		CreateType:      certmgr.CertCreateInternal,
		SignedBy:        caID,
		KeyLength:       1024,
		DigestAlgorithm: "SHA256",
		Lifetime:        397,
		Country:         "US",
		Organization:    "Acme",
		CommonName:      name + ".example.com",
		SAN:             []string{name + ".example.com"},
	}, nil)
	require.NoError(t, err)
	return cert
}

// selfSignedPair returns certificate and key PEM for a standalone
// self-signed certificate with the given common name and serial.
func selfSignedPair(t *testing.T, cn string, serial int64, lifetimeDays int) (certPEM, keyPEM string) {
	t.Helper()
	key, err := pki.GenerateKey(1024)
	require.NoError(t, err)
	certPEM, err = pki.CreateSelfSignedCA(pki.CertificateInfo{
		Subject:         pki.SubjectInfo{CommonName: cn, Organization: "Ext"},
		DigestAlgorithm: "SHA256",
		LifetimeDays:    lifetimeDays,
		Serial:          serial,
	}, key)
	require.NoError(t, err)
	keyPEM, err = pki.ExportPrivateKeyPEM(key, "")
	require.NoError(t, err)
	return certPEM, keyPEM
}

// fakeIssuer is a canned certmgr.ACMEIssuer for tests.
type fakeIssuer struct {
	issueFn   func(ctx context.Context, req certmgr.ACMEIssueRequest) (*certmgr.ACMEIssueResult, error)
	revokeErr error

	issued  []certmgr.ACMEIssueRequest
	revoked []string
}

func (f *fakeIssuer) Issue(ctx context.Context, req certmgr.ACMEIssueRequest) (*certmgr.ACMEIssueResult, error) {
	f.issued = append(f.issued, req)
	return f.issueFn(ctx, req)
}

func (f *fakeIssuer) Revoke(ctx context.Context, registrationID, certPEM string) error {
	f.revoked = append(f.revoked, registrationID)
	return f.revokeErr
}
