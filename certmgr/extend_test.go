package certmgr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certward/certward/certmgr"
)

func TestExtendInternalCertWalksIssuerChain(t *testing.T) {
	ts := newTestServices(t)
	ca := ts.createRootCA(t, "root")
	cert := ts.createInternalCert(t, "web", ca.ID)

	assert.Equal(t, certmgr.IssuerSignedBy, cert.Issuer.Kind)
	require.NotNil(t, cert.Issuer.CA)
	assert.Equal(t, "root", cert.Issuer.CA.Name)

	// Leaf first, then its root.
	require.Len(t, cert.ChainList, 2)
	assert.Equal(t, cert.Issuer.CA.ChainList[0], cert.ChainList[1])

	require.NotNil(t, cert.From)
	require.NotNil(t, cert.Until)
	assert.True(t, cert.Until.After(*cert.From))
	assert.Contains(t, cert.DN, "/CN=web.example.com")
	assert.Contains(t, cert.DN, "/O=Acme")
	assert.True(t, cert.Internal)
}

func TestExtendMultiBlockChainSplitsInDocumentOrder(t *testing.T) {
	ts := newTestServices(t)

	first, _ := selfSignedPair(t, "first", 1, 30)
	second, _ := selfSignedPair(t, "second", 2, 30)

	id := insertRecord(t, ts.store, &certmgr.Record{
		Name:        "bundle",
		Type:        certmgr.TypeCertExisting,
		Certificate: first + second,
		Chain:       true,
	})

	details, err := ts.store.Certificate(id)
	require.NoError(t, err)
	require.Len(t, details.ChainList, 2)
	assert.Equal(t, certmgr.IssuerExternal, details.Issuer.Kind)
	assert.False(t, details.Internal)
}

func TestExtendChainSkipsUndecodableBlocks(t *testing.T) {
	ts := newTestServices(t)

	good, _ := selfSignedPair(t, "good", 1, 30)
	bad := "-----BEGIN CERTIFICATE-----\naGVsbG8=\n-----END CERTIFICATE-----\n"

	id := insertRecord(t, ts.store, &certmgr.Record{
		Name:        "partial",
		Type:        certmgr.TypeCertExisting,
		Certificate: good + bad,
		Chain:       true,
	})

	details, err := ts.store.Certificate(id)
	require.NoError(t, err)
	assert.Len(t, details.ChainList, 1)
}

func TestExtendCSRRecord(t *testing.T) {
	ts := newTestServices(t)

	csr, err := ts.certs.Create(t.Context(), certmgr.CertificateCreateRequest{
		Name:            "pending",
		CreateType:      certmgr.CertCreateCSR,
		KeyLength:       1024,
		DigestAlgorithm: "SHA256",
		Country:         "US",
		Organization:    "Acme",
		CommonName:      "pending.example.com",
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, certmgr.IssuerPending, csr.Issuer.Kind)
	assert.Equal(t, "external - signature pending", csr.Issuer.String())
	assert.Nil(t, csr.From)
	assert.Nil(t, csr.Until)
	assert.NotEmpty(t, csr.CSR)
	assert.Contains(t, csr.DN, "/CN=pending.example.com")
}

func TestExtendIssuerTags(t *testing.T) {
	ts := newTestServices(t)
	ca := ts.createRootCA(t, "selfsigned")
	assert.Equal(t, certmgr.IssuerSelfSigned, ca.Issuer.Kind)
	assert.Equal(t, "self-signed", ca.Issuer.String())

	certPEM, keyPEM := selfSignedPair(t, "ext", 1, 30)
	id := insertRecord(t, ts.store, &certmgr.Record{
		Name: "ext", Type: certmgr.TypeCertExisting,
		Certificate: certPEM, PrivateKey: keyPEM,
	})
	details, err := ts.store.Certificate(id)
	require.NoError(t, err)
	assert.Equal(t, "external", details.Issuer.String())
}

func TestExtendPaths(t *testing.T) {
	ts := newTestServices(t)
	ca := ts.createRootCA(t, "pathca")
	cert := ts.createInternalCert(t, "pathcert", ca.ID)

	assert.Equal(t, "/etc/certificates/CA", ca.RootPath)
	assert.Equal(t, "/etc/certificates/CA/pathca.crt", ca.CertificatePath)
	assert.Equal(t, "/etc/certificates", cert.RootPath)
	assert.Equal(t, "/etc/certificates/pathcert.key", cert.PrivateKeyPath)
	assert.Equal(t, "/etc/certificates/pathcert.csr", cert.CSRPath)
}

func TestExtendSurvivesDeletedAuthority(t *testing.T) {
	ts := newTestServices(t)
	ca := ts.createRootCA(t, "doomed")
	cert := ts.createInternalCert(t, "orphan", ca.ID)

	require.NoError(t, ts.cas.Delete(t.Context(), ca.ID))

	details, err := ts.store.Certificate(cert.ID)
	require.NoError(t, err)
	assert.Nil(t, details.Issuer.CA)
	assert.Len(t, details.ChainList, 1)
}
