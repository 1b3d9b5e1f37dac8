package certmgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/certward/certward/jobs"
	"github.com/certward/certward/pki"
	"github.com/certward/certward/storage"
)

// renewalInterval is the period of the background renewal sweep.
const renewalInterval = 24 * time.Hour

// RenewCertificates sweeps all ACME certificates and re-issues those whose
// remaining validity has fallen below their renewal threshold. Each
// certificate is handled independently: one failure is logged and joined
// into the returned error without stopping the sweep.
func (s *CertificateService) RenewCertificates(ctx context.Context) error {
	s.renewMu.Lock()
	defer s.renewMu.Unlock()

	recs, err := s.store.listRecords(storage.KindCertificate)
	if err != nil {
		return err
	}

	var errs []error
	renewed := false
	for _, rec := range recs {
		if rec.ACME == nil {
			continue
		}
		due, err := renewalDue(rec, time.Now())
		if err != nil {
			s.logger.Error("checking certificate for renewal", "name", rec.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", rec.Name, err))
			continue
		}
		if !due {
			continue
		}
		s.logger.Info("renewing ACME certificate", "name", rec.Name)
		if err := s.renewOne(ctx, rec); err != nil {
			s.logger.Error("renewing certificate", "name", rec.Name, "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", rec.Name, err))
			continue
		}
		renewed = true
	}

	if renewed {
		s.notifyRestart(ctx)
	}
	return errors.Join(errs...)
}

// renewalDue reports whether the certificate expires within its configured
// renewal window.
func renewalDue(rec *Record, now time.Time) (bool, error) {
	cert, err := pki.ParseCertificatePEM(rec.Certificate)
	if err != nil {
		return false, fmt.Errorf("parsing certificate: %w", err)
	}
	window := time.Duration(rec.ACME.RenewDays) * 24 * time.Hour
	return cert.NotAfter.Sub(now) < window, nil
}

// renewOne re-runs the ACME order for a certificate using its stored CSR and
// domain mapping, then rewrites the certificate material in place.
func (s *CertificateService) renewOne(ctx context.Context, rec *Record) error {
	if s.acme == nil {
		return fmt.Errorf("ACME issuance is not configured")
	}
	if rec.CSR == "" {
		return ErrNoCSR
	}

	domains := append([]string{rec.CommonName}, rec.SANList()...)
	result, err := s.acme.Issue(ctx, ACMEIssueRequest{
		DirectoryURL: rec.ACME.DirectoryURL,
		TOS:          true,
		CSRPEM:       rec.CSR,
		Domains:      domains,
		DNSMapping:   rec.ACME.DomainAuthenticators,
		Reporter:     &jobs.Logged{Logger: s.logger, Name: "renew:" + rec.Name},
	})
	if err != nil {
		return err
	}

	rec.Certificate = result.FullChainPEM
	rec.Chain = pki.CountCertificates(result.FullChainPEM) > 1
	rec.ACME.URI = result.OrderURI
	rec.ACME.RegistrationID = result.RegistrationID
	return s.store.Update(rec)
}

// StartRenewalLoop runs a renewal sweep immediately and then every 24 hours
// until the context is cancelled. Sweep failures are logged, never fatal.
func (s *CertificateService) StartRenewalLoop(ctx context.Context) {
	run := func() {
		if err := s.RenewCertificates(ctx); err != nil {
			s.logger.Error("renewal sweep finished with errors", "err", err)
		}
	}
	run()

	ticker := time.NewTicker(renewalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
