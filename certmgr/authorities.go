package certmgr

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/certward/certward/pki"
	"github.com/certward/certward/storage"
)

// AuthorityCreateType selects the certificate authority creation variant.
type AuthorityCreateType string

const (
	CACreateInternal     AuthorityCreateType = "CA_CREATE_INTERNAL"
	CACreateImported     AuthorityCreateType = "CA_CREATE_IMPORTED"
	CACreateIntermediate AuthorityCreateType = "CA_CREATE_INTERMEDIATE"
)

// AuthorityCreateRequest carries the inputs for every CA creation variant.
type AuthorityCreateRequest struct {
	Name       string              `json:"name"`
	CreateType AuthorityCreateType `json:"create_type"`

	// Imported variant.
	Certificate string `json:"certificate,omitempty"`
	PrivateKey  string `json:"privatekey,omitempty"`
	Passphrase  string `json:"passphrase,omitempty"`

	// Internal / intermediate variants.
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

func (r *AuthorityCreateRequest) subjectInfo() pki.SubjectInfo {
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

// SignCSRRequest asks an authority to sign a stored CSR record, producing a
// new certificate record.
type SignCSRRequest struct {
	AuthorityID string `json:"ca_id"`
	CSRID       string `json:"csr_cert_id"`
	Name        string `json:"name"`
}

// AuthorityService implements the certificate authority workflows.
type AuthorityService struct {
	store  *Store
	certs  *CertificateService
	logger *slog.Logger

	createMu sync.Mutex
	updateMu sync.Mutex
	deleteMu sync.Mutex
}

// NewAuthorityService creates the CA workflow service. The certificate
// service is needed because CSR signing files the signed result as a
// certificate record.
func NewAuthorityService(store *Store, certs *CertificateService) *AuthorityService {
	return &AuthorityService{store: store, certs: certs, logger: store.logger}
}

// Store exposes the underlying record store for read access.
func (s *AuthorityService) Store() *Store {
	return s.store
}

// Create validates the request, dispatches on the creation variant and
// persists the resulting authority record.
func (s *AuthorityService) Create(ctx context.Context, req AuthorityCreateRequest) (*Details, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	verrors := &ValidationErrors{}
	s.store.validateCommonAttributes(commonAttributes{
		Country:     req.Country,
		Certificate: req.Certificate,
		PrivateKey:  req.PrivateKey,
		Passphrase:  req.Passphrase,
		KeyLength:   req.KeyLength,
		SignedBy:    req.SignedBy,
	}, "ca_create", verrors)
	s.store.validateName(req.Name, "ca_create.name", verrors)
	if verrors.Any() {
		return nil, verrors
	}

	var rec *Record
	var err error
	switch req.CreateType {
	case CACreateInternal:
		rec, err = s.createInternal(req)
	case CACreateImported:
		rec, err = s.createImported(req)
	case CACreateIntermediate:
		rec, err = s.createIntermediate(req)
	default:
		verrors.Add("ca_create.create_type", "unknown create_type %q", req.CreateType)
		return nil, verrors
	}
	if err != nil {
		return nil, err
	}

	rec.Name = req.Name
	id, err := s.store.Insert(rec)
	if err != nil {
		return nil, fmt.Errorf("storing certificate authority: %w", err)
	}
	return s.store.Authority(id)
}

// rootSerial picks the starting serial for a new root authority. Randomized
// so independently created hierarchies do not all start at 1.
func rootSerial() (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<24-1000))
	if err != nil {
		return 0, fmt.Errorf("generating root serial: %w", err)
	}
	return n.Int64() + 1000, nil
}

// createInternal generates a self-signed root authority.
func (s *AuthorityService) createInternal(req AuthorityCreateRequest) (*Record, error) {
	key, err := pki.GenerateKey(req.KeyLength)
	if err != nil {
		return nil, err
	}
	serial, err := rootSerial()
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
	certPEM, err := pki.CreateSelfSignedCA(info, key)
	if err != nil {
		return nil, err
	}
	keyPEM, err := pki.ExportPrivateKeyPEM(key, "")
	if err != nil {
		return nil, err
	}
	return &Record{
		Type:               TypeCAInternal,
		Certificate:        certPEM,
		PrivateKey:         keyPEM,
		Serial:             serial,
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

// createImported stores an externally managed authority. The private key is
// optional: without it the authority can anchor chains but not sign.
func (s *AuthorityService) createImported(req AuthorityCreateRequest) (*Record, error) {
	rec, err := recordFromCertificate(req.Certificate, TypeCAExisting)
	if err != nil {
		return nil, err
	}
	privateKey := req.PrivateKey
	if privateKey != "" && req.Passphrase != "" {
		privateKey, err = pki.ReencodePrivateKeyPEM(privateKey, req.Passphrase)
		if err != nil {
			return nil, err
		}
	}
	rec.PrivateKey = privateKey
	return rec, nil
}

// createIntermediate generates an authority signed by an existing one, with
// a hierarchy-unique serial and a zero path length constraint.
func (s *AuthorityService) createIntermediate(req AuthorityCreateRequest) (*Record, error) {
	if req.SignedBy == "" {
		verrors := &ValidationErrors{}
		verrors.Add("ca_create.signedby", "signing authority is required for an intermediate CA")
		return nil, verrors
	}
	parent, err := s.store.getRecord(storage.KindAuthority, req.SignedBy)
	if err != nil {
		return nil, fmt.Errorf("looking up signing authority: %w", err)
	}
	parentCert, err := pki.ParseCertificatePEM(parent.Certificate)
	if err != nil {
		return nil, fmt.Errorf("signing authority certificate: %w", err)
	}
	parentKey, err := pki.ParsePrivateKeyPEM(parent.PrivateKey, "")
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
	certPEM, err := pki.CreateIntermediateCA(info, parentCert, key.Public(), parentKey)
	if err != nil {
		return nil, err
	}
	keyPEM, err := pki.ExportPrivateKeyPEM(key, "")
	if err != nil {
		return nil, err
	}
	return &Record{
		Type:               TypeCAIntermediate,
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

// SignCSR signs a stored CSR record with the given authority and files the
// result as a new certificate record. Signing runs synchronously; any
// failure is surfaced to the caller.
func (s *AuthorityService) SignCSR(ctx context.Context, req SignCSRRequest) (*Details, error) {
	ca, err := s.store.getRecord(storage.KindAuthority, req.AuthorityID)
	if err != nil {
		return nil, fmt.Errorf("looking up authority: %w", err)
	}
	csrRec, err := s.store.getRecord(storage.KindCertificate, req.CSRID)
	if err != nil {
		return nil, fmt.Errorf("looking up CSR record: %w", err)
	}
	if csrRec.CSR == "" {
		return nil, ErrNoCSR
	}

	csr, err := pki.ParseCSRPEM(csrRec.CSR)
	if err != nil {
		return nil, err
	}
	caCert, err := pki.ParseCertificatePEM(ca.Certificate)
	if err != nil {
		return nil, fmt.Errorf("authority certificate: %w", err)
	}
	caKey, err := pki.ParsePrivateKeyPEM(ca.PrivateKey, "")
	if err != nil {
		return nil, fmt.Errorf("authority key: %w", err)
	}

	serial, err := s.store.NextSerial(req.AuthorityID)
	if err != nil {
		return nil, err
	}
	certPEM, err := pki.SignCSR(csr, caCert, caKey, serial, ca.DigestAlgorithm)
	if err != nil {
		return nil, err
	}

	return s.certs.createSigned(ctx, req.Name, certPEM, csrRec.PrivateKey, req.AuthorityID)
}

// Update renames an authority.
func (s *AuthorityService) Update(ctx context.Context, id, name string) (*Details, error) {
	s.updateMu.Lock()
	defer s.updateMu.Unlock()

	rec, err := s.store.getRecord(storage.KindAuthority, id)
	if err != nil {
		return nil, err
	}
	if name != rec.Name {
		verrors := &ValidationErrors{}
		s.store.validateName(name, "ca_update.name", verrors)
		if verrors.Any() {
			return nil, verrors
		}
		rec.Name = name
		if err := s.store.Update(rec); err != nil {
			return nil, err
		}
	}
	return s.store.Authority(id)
}

// Delete removes an authority. Records it signed keep their weak reference
// and fall back to an external issuer in the derived view.
func (s *AuthorityService) Delete(ctx context.Context, id string) error {
	s.deleteMu.Lock()
	defer s.deleteMu.Unlock()

	if _, err := s.store.getRecord(storage.KindAuthority, id); err != nil {
		return err
	}
	return s.store.DeleteAuthority(id)
}
