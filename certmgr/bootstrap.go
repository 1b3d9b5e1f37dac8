package certmgr

import (
	"context"
	"fmt"
	"time"

	"github.com/certward/certward/pki"
	"github.com/certward/certward/storage"
)

// defaultCertificateName is the self-signed serving certificate created at
// first boot.
const defaultCertificateName = "certward_default"

// EnsureServingCertificate guarantees a usable certificate is configured for
// the administrative HTTPS interface. When the active certificate is missing
// or unusable, an existing record with both certificate and key is promoted;
// failing that, a fresh self-signed one is generated and activated. Returns
// the active certificate's derived view.
func (s *CertificateService) EnsureServingCertificate(ctx context.Context) (*Details, error) {
	settings, err := s.store.Settings()
	if err != nil {
		return nil, err
	}

	if settings.ActiveCertificateID != "" {
		rec, err := s.store.getRecord(storage.KindCertificate, settings.ActiveCertificateID)
		if err == nil && usableForServing(rec) {
			return s.store.Certificate(rec.ID)
		}
		s.logger.Warn("active serving certificate is unusable, selecting a replacement",
			"id", settings.ActiveCertificateID)
	}

	// Prefer the previously generated default if it is still around.
	recs, err := s.store.listRecords(storage.KindCertificate)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.Name == defaultCertificateName && usableForServing(rec) {
			return s.activate(rec.ID, settings)
		}
	}

	certPEM, keyPEM, err := pki.SelfSignedServingCertificate()
	if err != nil {
		return nil, fmt.Errorf("generating default serving certificate: %w", err)
	}
	rec := &Record{
		Name:        defaultCertificateName,
		Type:        TypeCertExisting,
		Certificate: certPEM,
		PrivateKey:  keyPEM,
	}
	if decoded, err := recordFromCertificate(certPEM, TypeCertExisting); err == nil {
		decoded.Name = defaultCertificateName
		decoded.PrivateKey = keyPEM
		rec = decoded
	}
	id, err := s.store.Insert(rec)
	if err != nil {
		return nil, fmt.Errorf("storing default serving certificate: %w", err)
	}
	s.logger.Info("generated default self-signed serving certificate", "name", defaultCertificateName)
	return s.activate(id, settings)
}

func (s *CertificateService) activate(id string, settings *Settings) (*Details, error) {
	settings.ActiveCertificateID = id
	if err := s.store.SaveSettings(settings); err != nil {
		return nil, err
	}
	return s.store.Certificate(id)
}

// usableForServing reports whether the record can terminate TLS right now:
// both halves of the keypair present and the certificate not yet expired.
func usableForServing(rec *Record) bool {
	if rec.Certificate == "" || rec.PrivateKey == "" {
		return false
	}
	cert, err := pki.ParseCertificatePEM(rec.Certificate)
	if err != nil {
		return false
	}
	return time.Now().Before(cert.NotAfter)
}
