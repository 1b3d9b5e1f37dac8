// Package pki wraps the low-level X.509 primitives used by the certificate
// manager: RSA key generation, PEM encode/decode (with optional passphrase
// protection), subject extraction, certificate and CSR construction, and
// signing. Nothing here touches the record store.
package pki

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	// ErrInvalidPEM is returned when PEM data cannot be decoded or parsed.
	ErrInvalidPEM = errors.New("invalid PEM data")

	// ErrBadPassphrase is returned when an encrypted private key cannot be
	// decrypted with the supplied passphrase. Distinct from ErrInvalidPEM so
	// callers can tell a wrong passphrase from malformed key material.
	ErrBadPassphrase = errors.New("incorrect passphrase for private key")

	// ErrKeyMismatch is returned when a private key does not correspond to a
	// certificate's public key.
	ErrKeyMismatch = errors.New("private key does not match certificate")
)

// Supported RSA key lengths.
var ValidKeyLengths = []int{1024, 2048, 4096}

// DigestAlgorithms maps the accepted digest names to x509 signature
// algorithms for RSA keys.
var DigestAlgorithms = map[string]x509.SignatureAlgorithm{
	"SHA1":   x509.SHA1WithRSA,
	"SHA256": x509.SHA256WithRSA,
	"SHA384": x509.SHA384WithRSA,
	"SHA512": x509.SHA512WithRSA,
}

// ---------------------------------------------------------------------------
// Keys
// ---------------------------------------------------------------------------

// GenerateKey generates a new RSA private key of the given bit length.
func GenerateKey(bits int) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generating %d-bit RSA key: %w", bits, err)
	}
	return key, nil
}

// normalizePassphrase applies NFKD normalization so that visually identical
// passphrases entered on different platforms decrypt the same key.
func normalizePassphrase(passphrase string) []byte {
	return []byte(norm.NFKD.String(passphrase))
}

// ParsePrivateKeyPEM decodes a PEM private key, decrypting it with passphrase
// when the block is encrypted. PKCS#1, PKCS#8 and SEC1 encodings are accepted.
func ParsePrivateKeyPEM(keyPEM, passphrase string) (crypto.Signer, error) {
	block, _ := pem.Decode([]byte(keyPEM))
	if block == nil {
		return nil, fmt.Errorf("private key: %w", ErrInvalidPEM)
	}
	der := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck // legacy RFC 1423 keys are part of the import contract
		decrypted, err := x509.DecryptPEMBlock(block, normalizePassphrase(passphrase)) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPassphrase, err)
		}
		der = decrypted
	}
	return parsePrivateKeyDER(der)
}

func parsePrivateKeyDER(der []byte) (crypto.Signer, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("private key: unsupported key type %T", key)
		}
		return signer, nil
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("private key: %w", ErrInvalidPEM)
}

// ExportPrivateKeyPEM encodes a private key as PEM. A non-empty passphrase
// encrypts the block (AES-256-CBC); an empty passphrase exports plaintext.
func ExportPrivateKeyPEM(key crypto.Signer, passphrase string) (string, error) {
	var blockType string
	var der []byte
	var err error
	switch k := key.(type) {
	case *rsa.PrivateKey:
		blockType = "RSA PRIVATE KEY"
		der = x509.MarshalPKCS1PrivateKey(k)
	case *ecdsa.PrivateKey:
		blockType = "EC PRIVATE KEY"
		der, err = x509.MarshalECPrivateKey(k)
		if err != nil {
			return "", fmt.Errorf("encoding EC private key: %w", err)
		}
	default:
		blockType = "PRIVATE KEY"
		der, err = x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			return "", fmt.Errorf("encoding private key: %w", err)
		}
	}

	block := &pem.Block{Type: blockType, Bytes: der}
	if passphrase != "" {
		block, err = x509.EncryptPEMBlock( //nolint:staticcheck // see ParsePrivateKeyPEM
			rand.Reader, blockType, der, normalizePassphrase(passphrase), x509.PEMCipherAES256)
		if err != nil {
			return "", fmt.Errorf("encrypting private key: %w", err)
		}
	}
	return string(pem.EncodeToMemory(block)), nil
}

// ReencodePrivateKeyPEM parses a (possibly passphrase-protected) key and
// re-exports it without passphrase protection, normalizing line endings.
func ReencodePrivateKeyPEM(keyPEM, passphrase string) (string, error) {
	key, err := ParsePrivateKeyPEM(keyPEM, passphrase)
	if err != nil {
		return "", err
	}
	return ExportPrivateKeyPEM(key, "")
}

// KeyMatchesCertificate reports whether key corresponds to the certificate's
// public key.
func KeyMatchesCertificate(cert *x509.Certificate, key crypto.Signer) bool {
	switch pub := cert.PublicKey.(type) {
	case *rsa.PublicKey:
		return pub.Equal(key.Public())
	case *ecdsa.PublicKey:
		return pub.Equal(key.Public())
	default:
		return false
	}
}

// ---------------------------------------------------------------------------
// Certificates and CSRs
// ---------------------------------------------------------------------------

// EncodeCertificatePEM encodes DER certificate bytes as PEM.
func EncodeCertificatePEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

// EncodeCSRPEM encodes DER certificate-request bytes as PEM.
func EncodeCSRPEM(der []byte) string {
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))
}

// ParseCertificatePEM decodes the first CERTIFICATE block of a PEM bundle.
func ParseCertificatePEM(certPEM string) (*x509.Certificate, error) {
	rest := []byte(certPEM)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return nil, fmt.Errorf("certificate: %w", ErrInvalidPEM)
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("certificate: %w: %v", ErrInvalidPEM, err)
		}
		return cert, nil
	}
}

// SplitCertificatePEM splits a PEM bundle into its individual CERTIFICATE
// blocks, re-encoded, in document order. Blocks of other types are ignored.
func SplitCertificatePEM(bundle string) []string {
	var out []string
	rest := []byte(bundle)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			return out
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		out = append(out, string(pem.EncodeToMemory(block)))
	}
}

// CountCertificates returns the number of CERTIFICATE blocks in a PEM bundle.
func CountCertificates(bundle string) int {
	return len(SplitCertificatePEM(bundle))
}

// ParseCSRPEM decodes a PEM certificate signing request and verifies its
// self-signature.
func ParseCSRPEM(csrPEM string) (*x509.CertificateRequest, error) {
	block, _ := pem.Decode([]byte(csrPEM))
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, fmt.Errorf("CSR: %w", ErrInvalidPEM)
	}
	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("CSR: %w: %v", ErrInvalidPEM, err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, fmt.Errorf("CSR signature invalid: %w", err)
	}
	return csr, nil
}

// Fingerprint returns the SHA-1 digest of the certificate's DER encoding,
// colon-separated uppercase hex (the OpenSSL presentation).
func Fingerprint(certPEM string) (string, error) {
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return "", err
	}
	sum := sha1.Sum(cert.Raw)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":"), nil
}

// ---------------------------------------------------------------------------
// Subject information
// ---------------------------------------------------------------------------

// SubjectInfo carries the subject components of a certificate or CSR.
type SubjectInfo struct {
	Country            string
	State              string
	City               string
	Organization       string
	OrganizationalUnit string
	CommonName         string
	Email              string
	SAN                []string
}

// Name converts the subject info to a pkix.Name. The email address rides in
// ExtraNames as emailAddress (OID 1.2.840.113549.1.9.1), matching how OpenSSL
// places it in the subject.
func (s SubjectInfo) Name() pkix.Name {
	name := pkix.Name{CommonName: s.CommonName}
	if s.Country != "" {
		name.Country = []string{s.Country}
	}
	if s.State != "" {
		name.Province = []string{s.State}
	}
	if s.City != "" {
		name.Locality = []string{s.City}
	}
	if s.Organization != "" {
		name.Organization = []string{s.Organization}
	}
	if s.OrganizationalUnit != "" {
		name.OrganizationalUnit = []string{s.OrganizationalUnit}
	}
	if s.Email != "" {
		name.ExtraNames = append(name.ExtraNames, pkix.AttributeTypeAndValue{
			Type:  oidEmailAddress,
			Value: s.Email,
		})
	}
	return name
}

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func emailFromName(name pkix.Name) string {
	for _, atv := range name.Names {
		if atv.Type.Equal(oidEmailAddress) {
			if s, ok := atv.Value.(string); ok {
				return s
			}
		}
	}
	return ""
}

func subjectFromName(name pkix.Name) SubjectInfo {
	return SubjectInfo{
		Country:            first(name.Country),
		State:              first(name.Province),
		City:               first(name.Locality),
		Organization:       first(name.Organization),
		OrganizationalUnit: first(name.OrganizationalUnit),
		CommonName:         name.CommonName,
		Email:              emailFromName(name),
	}
}

// SubjectFromCertificate extracts subject info and SANs from a parsed
// certificate.
func SubjectFromCertificate(cert *x509.Certificate) SubjectInfo {
	info := subjectFromName(cert.Subject)
	info.SAN = sanStrings(cert.DNSNames, cert.IPAddresses)
	if info.Email == "" && len(cert.EmailAddresses) > 0 {
		info.Email = cert.EmailAddresses[0]
	}
	return info
}

// SubjectFromCSR extracts subject info and SANs from a parsed CSR.
func SubjectFromCSR(csr *x509.CertificateRequest) SubjectInfo {
	info := subjectFromName(csr.Subject)
	info.SAN = sanStrings(csr.DNSNames, csr.IPAddresses)
	if info.Email == "" && len(csr.EmailAddresses) > 0 {
		info.Email = csr.EmailAddresses[0]
	}
	return info
}

func sanStrings(dns []string, ips []net.IP) []string {
	out := make([]string, 0, len(dns)+len(ips))
	out = append(out, dns...)
	for _, ip := range ips {
		out = append(out, ip.String())
	}
	return out
}

// splitSANs sorts SAN entries into DNS names and IP addresses.
func splitSANs(san []string) (dns []string, ips []net.IP) {
	for _, entry := range san {
		if ip := net.ParseIP(entry); ip != nil {
			ips = append(ips, ip)
			continue
		}
		dns = append(dns, entry)
	}
	return dns, ips
}

// ---------------------------------------------------------------------------
// Certificate construction
// ---------------------------------------------------------------------------

// CertificateInfo holds the parameters for building a certificate template.
type CertificateInfo struct {
	Subject         SubjectInfo
	KeyLength       int
	DigestAlgorithm string
	LifetimeDays    int
	Serial          int64
}

// Template builds an x509 certificate template from the info. Issuer, public
// key and extensions are set by the signing helpers.
func (ci CertificateInfo) Template() *x509.Certificate {
	now := time.Now().UTC()
	dns, ips := splitSANs(ci.Subject.SAN)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(ci.Serial),
		Subject:      ci.Subject.Name(),
		NotBefore:    now,
		NotAfter:     now.AddDate(0, 0, ci.LifetimeDays),
		DNSNames:     dns,
		IPAddresses:  ips,
	}
	if alg, ok := DigestAlgorithms[ci.DigestAlgorithm]; ok {
		tmpl.SignatureAlgorithm = alg
	}
	return tmpl
}

// subjectKeyID computes the SHA-1 key identifier of an RSA/EC public key, the
// same value OpenSSL's "hash" subjectKeyIdentifier produces.
func subjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	var spki struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(der, &spki); err != nil {
		return nil, err
	}
	sum := sha1.Sum(spki.PublicKey.Bytes)
	return sum[:], nil
}

// CreateCertificate signs a leaf certificate template with the CA key. The
// issuer is taken from caCert; a subjectKeyIdentifier is set from pub.
func CreateCertificate(tmpl, caCert *x509.Certificate, pub crypto.PublicKey, caKey crypto.Signer) (string, error) {
	skid, err := subjectKeyID(pub)
	if err != nil {
		return "", fmt.Errorf("computing subject key id: %w", err)
	}
	tmpl.SubjectKeyId = skid
	der, err := x509.CreateCertificate(rand.Reader, tmpl, caCert, pub, caKey)
	if err != nil {
		return "", fmt.Errorf("signing certificate: %w", err)
	}
	return EncodeCertificatePEM(der), nil
}

// CreateSelfSignedCA builds and signs a self-signed root CA certificate.
func CreateSelfSignedCA(info CertificateInfo, key crypto.Signer) (string, error) {
	tmpl := info.Template()
	tmpl.BasicConstraintsValid = true
	tmpl.IsCA = true
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	return CreateCertificate(tmpl, tmpl, key.Public(), key)
}

// CreateIntermediateCA builds an intermediate CA certificate (pathlen:0)
// signed by the parent CA.
func CreateIntermediateCA(info CertificateInfo, caCert *x509.Certificate, pub crypto.PublicKey, caKey crypto.Signer) (string, error) {
	tmpl := info.Template()
	tmpl.BasicConstraintsValid = true
	tmpl.IsCA = true
	tmpl.MaxPathLen = 0
	tmpl.MaxPathLenZero = true
	tmpl.KeyUsage = x509.KeyUsageCertSign | x509.KeyUsageCRLSign
	return CreateCertificate(tmpl, caCert, pub, caKey)
}

// CreateCSR builds and signs a certificate signing request with key.
func CreateCSR(info CertificateInfo, key crypto.Signer) (string, error) {
	dns, ips := splitSANs(info.Subject.SAN)
	tmpl := &x509.CertificateRequest{
		Subject:     info.Subject.Name(),
		DNSNames:    dns,
		IPAddresses: ips,
	}
	if alg, ok := DigestAlgorithms[info.DigestAlgorithm]; ok {
		tmpl.SignatureAlgorithm = alg
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	if err != nil {
		return "", fmt.Errorf("creating CSR: %w", err)
	}
	return EncodeCSRPEM(der), nil
}

// SignCSR issues a certificate for the CSR's subject and public key, signed
// by the CA. CA-signed CSRs get a ten year lifetime.
func SignCSR(csr *x509.CertificateRequest, caCert *x509.Certificate, caKey crypto.Signer, serial int64, digestAlgorithm string) (string, error) {
	now := time.Now().UTC()
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      csr.Subject,
		NotBefore:    now,
		NotAfter:     now.AddDate(10, 0, 0),
		DNSNames:     csr.DNSNames,
		IPAddresses:  csr.IPAddresses,
	}
	if alg, ok := DigestAlgorithms[digestAlgorithm]; ok {
		tmpl.SignatureAlgorithm = alg
	}
	return CreateCertificate(tmpl, caCert, csr.PublicKey, caKey)
}

// SelfSignedServingCertificate generates the bootstrap serving certificate
// and key used when no usable certificate exists at startup.
func SelfSignedServingCertificate() (certPEM, keyPEM string, err error) {
	key, err := GenerateKey(2048)
	if err != nil {
		return "", "", err
	}
	info := CertificateInfo{
		Subject: SubjectInfo{
			Country:      "US",
			Organization: "certward",
			CommonName:   "localhost",
			Email:        "info@localhost",
		},
		DigestAlgorithm: "SHA256",
		LifetimeDays:    3600,
		Serial:          1,
	}
	tmpl := info.Template()
	certPEM, err = CreateCertificate(tmpl, tmpl, key.Public(), key)
	if err != nil {
		return "", "", err
	}
	keyPEM, err = ExportPrivateKeyPEM(key, "")
	if err != nil {
		return "", "", err
	}
	return certPEM, keyPEM, nil
}
