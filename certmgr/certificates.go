package certmgr

import (
	"context"
	"crypto/x509"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/certward/certward/jobs"
	"github.com/certward/certward/pki"
	"github.com/certward/certward/storage"
)

// CertificateCreateType selects the certificate creation variant.
type CertificateCreateType string

const (
	CertCreateInternal    CertificateCreateType = "CERTIFICATE_CREATE_INTERNAL"
	CertCreateImported    CertificateCreateType = "CERTIFICATE_CREATE_IMPORTED"
	CertCreateCSR         CertificateCreateType = "CERTIFICATE_CREATE_CSR"
	CertCreateImportedCSR CertificateCreateType = "CERTIFICATE_CREATE_IMPORTED_CSR"
	CertCreateACME        CertificateCreateType = "CERTIFICATE_CREATE_ACME"
)

// CertificateCreateRequest carries the inputs for every creation variant.
// Which fields are required depends on CreateType; the shared validation
// pass checks whatever is present.
type CertificateCreateRequest struct {
	Name       string                `json:"name"`
	CreateType CertificateCreateType `json:"create_type"`

	// ACME variant.
	TOS              bool              `json:"tos,omitempty"`
	DNSMapping       map[string]string `json:"dns_mapping,omitempty"`
	ACMEDirectoryURI string            `json:"acme_directory_uri,omitempty"`
	RenewDays        int               `json:"renew_days,omitempty"`

	// Imported / imported-CSR variants.
	CSRID       string `json:"csr_id,omitempty"`
	Certificate string `json:"certificate,omitempty"`
	CSR         string `json:"CSR,omitempty"`
	PrivateKey  string `json:"privatekey,omitempty"`
	Passphrase  string `json:"passphrase,omitempty"`

	// Internal / CSR variants.
	SignedBy           string   `json:"signedby,omitempty"`
	KeyLength          int      `json:"key_length,omitempty"`
	DigestAlgorithm    string   `json:"digest_algorithm,omitempty"`
	Lifetime           int      `json:"lifetime,omitempty"`
	Country            string   `json:"country,omitempty"`
	State              string   `json:"state,omitempty"`
	City               string   `json:"city,omitempty"`
	Organization       string   `json:"organization,omitempty"`
	OrganizationalUnit string   `json:"organizational_unit,omitempty"`
	CommonName         string   `json:"common,omitempty"`
	Email              string   `json:"email,omitempty"`
	SAN                []string `json:"san,omitempty"`
}

func (r *CertificateCreateRequest) subjectInfo() pki.SubjectInfo {
	return pki.SubjectInfo{
		Country:            r.Country,
		State:              r.State,
		City:               r.City,
		Organization:       r.Organization,
		OrganizationalUnit: r.OrganizationalUnit,
		CommonName:         r.CommonName,
		Email:              r.Email,
		SAN:                r.SAN,
	}
}

// Progress milestones shared between the creation dispatcher and the ACME
// orchestrator. Issuance picks up at the base; authorization progress is
// capped at the ceiling so order finalization and record assembly keep
// headroom below the dispatcher's final steps.
const (
	ACMEIssueBaseProgress    = 25
	ACMEAuthzProgressCeiling = 70
)

// ACMEIssueRequest is a request to obtain a certificate through an ACME
// directory using DNS-01 challenges.
type ACMEIssueRequest struct {
	DirectoryURL string
	TOS          bool
	CSRPEM       string
	// Domains are the names the CSR asks for (common name plus SANs).
	Domains []string
	// DNSMapping assigns a DNS authenticator ID to every domain.
	DNSMapping map[string]string
	Reporter   jobs.Reporter
	// BaseProgress offsets reported percentages so issuance can run as a
	// slice of a larger job.
	BaseProgress int
}

// ACMEIssueResult is the outcome of a finalized ACME order.
type ACMEIssueResult struct {
	RegistrationID string
	DirectoryURL   string
	OrderURI       string
	FullChainPEM   string
}

// ACMEIssuer drives ACME order issuance and revocation. Implemented by the
// acmeclient package; abstracted here so renewal failure handling is
// testable without a directory server.
type ACMEIssuer interface {
	Issue(ctx context.Context, req ACMEIssueRequest) (*ACMEIssueResult, error)
	Revoke(ctx context.Context, registrationID, certPEM string) error
}

// RestartHook is notified after any persisted change so the TLS-serving
// component picks up new material. Best effort: failures are logged, never
// propagated.
type RestartHook func(ctx context.Context) error

// CertificateService implements the certificate CRUD workflows.
type CertificateService struct {
	store   *Store
	acme    ACMEIssuer
	restart RestartHook
	logger  *slog.Logger

	// Per-category locks: at most one operation per category at a time;
	// different categories may run concurrently.
	createMu sync.Mutex
	updateMu sync.Mutex
	deleteMu sync.Mutex
	renewMu  sync.Mutex
}

// CertificateOption configures a CertificateService.
type CertificateOption func(*CertificateService)

// WithACMEIssuer wires the ACME orchestrator used by the ACME creation
// variant, deletion-time revocation and the renewal sweep.
func WithACMEIssuer(issuer ACMEIssuer) CertificateOption {
	return func(s *CertificateService) { s.acme = issuer }
}

// WithRestartHook sets the hook notified after persisted changes.
func WithRestartHook(hook RestartHook) CertificateOption {
	return func(s *CertificateService) { s.restart = hook }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) CertificateOption {
	return func(s *CertificateService) { s.logger = logger }
}

// NewCertificateService creates the certificate workflow service.
func NewCertificateService(store *Store, opts ...CertificateOption) *CertificateService {
	s := &CertificateService{store: store, logger: store.logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying record store for read access.
func (s *CertificateService) Store() *Store {
	return s.store
}

func (s *CertificateService) notifyRestart(ctx context.Context) {
	if s.restart == nil {
		return
	}
	if err := s.restart(ctx); err != nil {
		s.logger.Warn("service restart hook failed", "err", err)
	}
}

// Create validates the request, dispatches on the creation variant and
// persists the resulting record. All validation failures are reported
// together before any side effect.
func (s *CertificateService) Create(ctx context.Context, req CertificateCreateRequest, reporter jobs.Reporter) (*Details, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	if reporter == nil {
		reporter = jobs.Discard{}
	}

	verrors := &ValidationErrors{}
	s.store.validateCommonAttributes(commonAttributes{
		Country:     req.Country,
		Certificate: req.Certificate,
		PrivateKey:  req.PrivateKey,
		Passphrase:  req.Passphrase,
		KeyLength:   req.KeyLength,
		SignedBy:    req.SignedBy,
		CSR:         req.CSR,
		CSRID:       req.CSRID,
	}, "certificate_create", verrors)
	s.store.validateName(req.Name, "certificate_create.name", verrors)
	if verrors.Any() {
		return nil, verrors
	}

	reporter.SetProgress(10, "Initial validation complete")

	var rec *Record
	var err error
	switch req.CreateType {
	case CertCreateInternal:
		rec, err = s.createInternal(req)
	case CertCreateImported:
		rec, err = s.createImported(req)
	case CertCreateCSR:
		rec, err = s.createCSR(req)
	case CertCreateImportedCSR:
		rec, err = s.createImportedCSR(req)
	case CertCreateACME:
		rec, err = s.createACME(ctx, req, reporter)
	default:
		verrors := &ValidationErrors{}
		verrors.Add("certificate_create.create_type", "unknown create_type %q", req.CreateType)
		return nil, verrors
	}
	if err != nil {
		return nil, err
	}

	rec.Name = req.Name
	id, err := s.store.Insert(rec)
	if err != nil {
		return nil, fmt.Errorf("storing certificate: %w", err)
	}

	s.notifyRestart(ctx)
	reporter.SetProgress(100, "Certificate created successfully")
	return s.store.Certificate(id)
}

// createInternal generates a keypair and a certificate signed by the
// configured authority, with a hierarchy-unique serial.
func (s *CertificateService) createInternal(req CertificateCreateRequest) (*Record, error) {
	signing, err := s.store.getRecord(storage.KindAuthority, req.SignedBy)
	if err != nil {
		return nil, fmt.Errorf("looking up signing authority: %w", err)
	}
	caCert, err := pki.ParseCertificatePEM(signing.Certificate)
	if err != nil {
		return nil, fmt.Errorf("signing authority certificate: %w", err)
	}
	caKey, err := pki.ParsePrivateKeyPEM(signing.PrivateKey, "")
	if err != nil {
		return nil, fmt.Errorf("signing authority key: %w", err)
	}

	key, err := pki.GenerateKey(req.KeyLength)
	if err != nil {
		return nil, err
	}

	serial, err := s.store.NextSerial(req.SignedBy)
	if err != nil {
		return nil, err
	}

	info := pki.CertificateInfo{
		Subject:         req.subjectInfo(),
		KeyLength:       req.KeyLength,
		DigestAlgorithm: req.DigestAlgorithm,
		LifetimeDays:    req.Lifetime,
		Serial:          serial,
	}
	certPEM, err := pki.CreateCertificate(info.Template(), caCert, key.Public(), caKey)
	if err != nil {
		return nil, err
	}
	keyPEM, err := pki.ExportPrivateKeyPEM(key, "")
	if err != nil {
		return nil, err
	}

	return &Record{
		Type:               TypeCertInternal,
		Certificate:        certPEM,
		PrivateKey:         keyPEM,
		Serial:             serial,
		SignedBy:           req.SignedBy,
		Country:            req.Country,
		State:              req.State,
		City:               req.City,
		Organization:       req.Organization,
		OrganizationalUnit: req.OrganizationalUnit,
		CommonName:         req.CommonName,
		Email:              req.Email,
		SAN:                NormalizeSAN(req.SAN),
		DigestAlgorithm:    req.DigestAlgorithm,
		KeyLength:          req.KeyLength,
		Lifetime:           req.Lifetime,
	}, nil
}

// createImported stores an externally issued certificate. The private key
// comes from the request or, when csr_id is set, from the referenced CSR
// record (the provided passphrase is ignored in that case).
func (s *CertificateService) createImported(req CertificateCreateRequest) (*Record, error) {
	privateKey := req.PrivateKey
	passphrase := req.Passphrase
	if req.CSRID != "" {
		csrRec, err := s.store.getRecord(storage.KindCertificate, req.CSRID)
		if err != nil {
			return nil, fmt.Errorf("looking up CSR record: %w", err)
		}
		privateKey = csrRec.PrivateKey
		passphrase = ""
	} else if privateKey == "" {
		verrors := &ValidationErrors{}
		verrors.Add("certificate_create.privatekey", "private key is required when importing a certificate")
		return nil, verrors
	}

	rec, err := recordFromCertificate(req.Certificate, TypeCertExisting)
	if err != nil {
		return nil, err
	}
	if passphrase != "" {
		privateKey, err = pki.ReencodePrivateKeyPEM(privateKey, passphrase)
		if err != nil {
			return nil, err
		}
	}
	rec.PrivateKey = privateKey
	return rec, nil
}

// createCSR generates a fresh keypair and an unsigned certificate request.
func (s *CertificateService) createCSR(req CertificateCreateRequest) (*Record, error) {
	key, err := pki.GenerateKey(req.KeyLength)
	if err != nil {
		return nil, err
	}
	info := pki.CertificateInfo{
		Subject:         req.subjectInfo(),
		KeyLength:       req.KeyLength,
		DigestAlgorithm: req.DigestAlgorithm,
	}
	csrPEM, err := pki.CreateCSR(info, key)
	if err != nil {
		return nil, err
	}
	keyPEM, err := pki.ExportPrivateKeyPEM(key, "")
	if err != nil {
		return nil, err
	}
	return &Record{
		Type:               TypeCertCSR,
		CSR:                csrPEM,
		PrivateKey:         keyPEM,
		Country:            req.Country,
		State:              req.State,
		City:               req.City,
		Organization:       req.Organization,
		OrganizationalUnit: req.OrganizationalUnit,
		CommonName:         req.CommonName,
		Email:              req.Email,
		SAN:                NormalizeSAN(req.SAN),
		DigestAlgorithm:    req.DigestAlgorithm,
		KeyLength:          req.KeyLength,
	}, nil
}

// createImportedCSR stores an externally generated CSR, decoding the subject
// from it and stripping any passphrase from the private key.
func (s *CertificateService) createImportedCSR(req CertificateCreateRequest) (*Record, error) {
	csr, err := pki.ParseCSRPEM(req.CSR)
	if err != nil {
		return nil, err
	}
	subject := pki.SubjectFromCSR(csr)

	privateKey := req.PrivateKey
	if req.Passphrase != "" {
		privateKey, err = pki.ReencodePrivateKeyPEM(privateKey, req.Passphrase)
		if err != nil {
			return nil, err
		}
	}

	return &Record{
		Type:               TypeCertCSR,
		CSR:                req.CSR,
		PrivateKey:         privateKey,
		Country:            subject.Country,
		State:              subject.State,
		City:               subject.City,
		Organization:       subject.Organization,
		OrganizationalUnit: subject.OrganizationalUnit,
		CommonName:         subject.CommonName,
		Email:              subject.Email,
		SAN:                NormalizeSAN(subject.SAN),
	}, nil
}

// createACME obtains a certificate for an existing CSR record through the
// ACME orchestrator and assembles the record from the finalized order.
func (s *CertificateService) createACME(ctx context.Context, req CertificateCreateRequest, reporter jobs.Reporter) (*Record, error) {
	if s.acme == nil {
		return nil, fmt.Errorf("ACME issuance is not configured")
	}
	csrRec, err := s.store.getRecord(storage.KindCertificate, req.CSRID)
	if err != nil {
		return nil, fmt.Errorf("looking up CSR record: %w", err)
	}
	if csrRec.CSR == "" {
		return nil, ErrNoCSR
	}

	directory := req.ACMEDirectoryURI
	if !strings.HasSuffix(directory, "/") {
		directory += "/"
	}

	domains := append([]string{csrRec.CommonName}, csrRec.SANList()...)

	result, err := s.acme.Issue(ctx, ACMEIssueRequest{
		DirectoryURL: directory,
		TOS:          req.TOS,
		CSRPEM:       csrRec.CSR,
		Domains:      domains,
		DNSMapping:   req.DNSMapping,
		Reporter:     reporter,
		BaseProgress: ACMEIssueBaseProgress,
	})
	if err != nil {
		return nil, err
	}

	reporter.SetProgress(95, "Final order received from ACME server")

	rec, err := recordFromCertificate(result.FullChainPEM, TypeCertExisting)
	if err != nil {
		return nil, err
	}
	rec.CSR = csrRec.CSR
	rec.PrivateKey = csrRec.PrivateKey
	renewDays := req.RenewDays
	if renewDays == 0 {
		renewDays = 10
	}
	rec.ACME = &ACMEMeta{
		RegistrationID:       result.RegistrationID,
		DirectoryURL:         result.DirectoryURL,
		URI:                  result.OrderURI,
		DomainAuthenticators: req.DNSMapping,
		RenewDays:            renewDays,
	}
	return rec, nil
}

// createSigned files pre-built certificate material produced by the CA
// CSR-signing flow. Not reachable through Create: the dispatcher only
// accepts the exported creation variants.
func (s *CertificateService) createSigned(ctx context.Context, name, certPEM, keyPEM, signedBy string) (*Details, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	verrors := &ValidationErrors{}
	s.store.validateCommonAttributes(commonAttributes{
		Certificate: certPEM,
		PrivateKey:  keyPEM,
		SignedBy:    signedBy,
	}, "certificate_create", verrors)
	s.store.validateName(name, "certificate_create.name", verrors)
	if verrors.Any() {
		return nil, verrors
	}

	rec, err := recordFromCertificate(certPEM, TypeCertInternal)
	if err != nil {
		return nil, err
	}
	rec.Name = name
	rec.PrivateKey = keyPEM
	rec.SignedBy = signedBy

	id, err := s.store.Insert(rec)
	if err != nil {
		return nil, fmt.Errorf("storing certificate: %w", err)
	}
	s.notifyRestart(ctx)
	return s.store.Certificate(id)
}

// recordFromCertificate decodes subject fields, serial, digest and chain
// detection from a certificate blob.
func recordFromCertificate(certPEM string, t RecordType) (*Record, error) {
	cert, err := pki.ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}
	subject := pki.SubjectFromCertificate(cert)
	return &Record{
		Type:               t,
		Certificate:        certPEM,
		Serial:             cert.SerialNumber.Int64(),
		Country:            subject.Country,
		State:              subject.State,
		City:               subject.City,
		Organization:       subject.Organization,
		OrganizationalUnit: subject.OrganizationalUnit,
		CommonName:         subject.CommonName,
		Email:              subject.Email,
		SAN:                NormalizeSAN(subject.SAN),
		DigestAlgorithm:    digestName(cert.SignatureAlgorithm),
		Chain:              pki.CountCertificates(certPEM) > 1,
	}, nil
}

func digestName(alg x509.SignatureAlgorithm) string {
	switch alg {
	case x509.SHA1WithRSA, x509.ECDSAWithSHA1:
		return "SHA1"
	case x509.SHA256WithRSA, x509.SHA256WithRSAPSS, x509.ECDSAWithSHA256:
		return "SHA256"
	case x509.SHA384WithRSA, x509.SHA384WithRSAPSS, x509.ECDSAWithSHA384:
		return "SHA384"
	case x509.SHA512WithRSA, x509.SHA512WithRSAPSS, x509.ECDSAWithSHA512:
		return "SHA512"
	default:
		return ""
	}
}

// Update renames a certificate. Only the name can change; ACME renewal is
// the sole path that rewrites certificate material.
func (s *CertificateService) Update(ctx context.Context, id, name string) (*Details, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	rec, err := s.store.getRecord(storage.KindCertificate, id)
	if err != nil {
		return nil, err
	}
	if name != rec.Name {
		verrors := &ValidationErrors{}
		s.store.validateName(name, "certificate_update.name", verrors)
		if verrors.Any() {
			return nil, verrors
		}
		rec.Name = name
		if err := s.store.Update(rec); err != nil {
			return nil, err
		}
		s.notifyRestart(ctx)
	}
	return s.store.Certificate(id)
}

// Delete removes a certificate. ACME certificates are revoked first; a
// revocation failure blocks the delete unless force is set. Deleting the
// active serving certificate is rejected outright.
func (s *CertificateService) Delete(ctx context.Context, id string, force bool) error {
	s.deleteMu.Lock()
	defer s.deleteMu.Unlock()

	settings, err := s.store.Settings()
	if err != nil {
		return err
	}
	if settings.ActiveCertificateID == id {
		return fmt.Errorf("%w: select another serving certificate first", ErrServingCertificate)
	}

	rec, err := s.store.getRecord(storage.KindCertificate, id)
	if err != nil {
		return err
	}

	if rec.ACME != nil && s.acme != nil {
		if err := s.acme.Revoke(ctx, rec.ACME.RegistrationID, rec.Certificate); err != nil {
			if !force {
				return fmt.Errorf("%w: %v", ErrRevokeFailed, err)
			}
			s.logger.Warn("forcing deletion despite failed revocation", "name", rec.Name, "err", err)
		}
	}

	if err := s.store.DeleteCertificate(id); err != nil {
		return err
	}
	s.notifyRestart(ctx)
	return nil
}

// RemoveAuthenticator scrubs a deleted DNS authenticator from every ACME
// certificate's domain mapping.
func (s *CertificateService) RemoveAuthenticator(ctx context.Context, authenticatorID string) error {
	recs, err := s.store.listRecords(storage.KindCertificate)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.ACME == nil {
			continue
		}
		changed := false
		for domain, id := range rec.ACME.DomainAuthenticators {
			if id == authenticatorID {
				delete(rec.ACME.DomainAuthenticators, domain)
				changed = true
			}
		}
		if changed {
			if err := s.store.Update(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// Fingerprint returns the SHA-1 fingerprint of a stored certificate.
func (s *CertificateService) Fingerprint(id string) (string, error) {
	rec, err := s.store.getRecord(storage.KindCertificate, id)
	if err != nil {
		return "", err
	}
	return pki.Fingerprint(rec.Certificate)
}

// ACMEServerChoices lists well-known ACME directory endpoints for the UI.
func ACMEServerChoices() map[string]string {
	return map[string]string{
		"https://acme-staging-v02.api.letsencrypt.org/directory": "Let's Encrypt Staging Directory",
		"https://acme-v02.api.letsencrypt.org/directory":         "Let's Encrypt Production Directory",
	}
}
