package acmeclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/acme"

	"github.com/certward/certward/certmgr"
	"github.com/certward/certward/jobs"
	"github.com/certward/certward/pki"
	"github.com/certward/certward/storage"
)

// finalizeTimeout bounds the finalize/poll phase of an order. Authorization
// waits are bounded by the caller's context; this is the only wait the
// protocol itself does not bound.
const finalizeTimeout = 10 * time.Minute

// ErrOrderFailed marks a terminally failed ACME order.
var ErrOrderFailed = errors.New("ACME order failed")

// Service drives ACME issuance and revocation against any RFC 8555
// directory. It implements certmgr.ACMEIssuer.
type Service struct {
	registry *registry
	auths    *AuthenticatorRegistry
	logger   *slog.Logger
}

// New creates the ACME orchestrator on top of the given repository and
// authenticator registry.
func New(repo storage.Repository, auths *AuthenticatorRegistry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{registry: newRegistry(repo), auths: auths, logger: logger}
}

// Authenticators exposes the registry for configuration and choice listing.
func (s *Service) Authenticators() *AuthenticatorRegistry {
	return s.auths
}

// validateIssueRequest checks the domain list against the authenticator
// mapping before anything touches the network. All failures are collected.
func (s *Service) validateIssueRequest(req certmgr.ACMEIssueRequest) error {
	verrors := &certmgr.ValidationErrors{}

	for _, domain := range req.Domains {
		if strings.HasSuffix(domain, ".") {
			verrors.Add("acme_create.dns_mapping",
				"domain %q has a trailing dot; use the plain FQDN", domain)
		}
		if i := strings.Index(domain, "*"); i >= 0 && !strings.HasPrefix(domain, "*.") {
			verrors.Add("acme_create.dns_mapping",
				"wildcard domain %q must start with *.", domain)
		}
		if _, ok := req.DNSMapping[domain]; !ok {
			verrors.Add("acme_create.dns_mapping",
				"domain %q does not have a DNS authenticator assigned", domain)
		}
	}

	known := make(map[string]struct{}, len(req.Domains))
	for _, domain := range req.Domains {
		known[domain] = struct{}{}
	}
	for domain, authID := range req.DNSMapping {
		if _, ok := known[domain]; !ok {
			verrors.Add("acme_create.dns_mapping",
				"%q is not requested by the CSR", domain)
			continue
		}
		if !s.auths.Has(authID) {
			verrors.Add("acme_create.dns_mapping",
				"unknown DNS authenticator %q for domain %q", authID, domain)
		}
	}

	return verrors.OrNil()
}

// Issue obtains a certificate for the request's CSR: register or look up the
// account, place the order, satisfy every dns-01 authorization through the
// mapped authenticators and finalize within the ten-minute bound.
func (s *Service) Issue(ctx context.Context, req certmgr.ACMEIssueRequest) (*certmgr.ACMEIssueResult, error) {
	if err := s.validateIssueRequest(req); err != nil {
		return nil, err
	}

	reporter := req.Reporter
	if reporter == nil {
		reporter = jobs.Discard{}
	}
	base := req.BaseProgress

	csr, err := pki.ParseCSRPEM(req.CSRPEM)
	if err != nil {
		return nil, err
	}

	reg, err := s.registry.lookupOrRegister(ctx, req.DirectoryURL, req.TOS)
	if err != nil {
		return nil, err
	}
	key, err := s.registry.accountKey(reg)
	if err != nil {
		return nil, err
	}
	client := &acme.Client{Key: key, DirectoryURL: reg.DirectoryURL}

	order, err := client.AuthorizeOrder(ctx, acme.DomainIDs(req.Domains...))
	if err != nil {
		return nil, fmt.Errorf("creating order: %w", err)
	}
	if order.Status == acme.StatusInvalid {
		return nil, fmt.Errorf("%w: order %s is invalid", ErrOrderFailed, order.URI)
	}

	if err := s.handleAuthorizations(ctx, client, order.AuthzURLs, req.DNSMapping, reporter, base); err != nil {
		return nil, err
	}

	finalizeCtx, cancel := context.WithTimeout(ctx, finalizeTimeout)
	defer cancel()

	order, err = client.WaitOrder(finalizeCtx, order.URI)
	if err != nil {
		return nil, fmt.Errorf("waiting for order to become ready: %w", err)
	}
	ders, certURL, err := client.CreateOrderCert(finalizeCtx, order.FinalizeURL, csr.Raw, true)
	if err != nil {
		return nil, fmt.Errorf("finalizing order: %w", err)
	}

	var chain strings.Builder
	for _, der := range ders {
		chain.WriteString(pki.EncodeCertificatePEM(der))
	}

	return &certmgr.ACMEIssueResult{
		RegistrationID: reg.ID,
		DirectoryURL:   reg.DirectoryURL,
		OrderURI:       certURL,
		FullChainPEM:   chain.String(),
	}, nil
}

// acmeAuthorizer is the slice of acme.Client the authorization loop needs.
type acmeAuthorizer interface {
	GetAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
	DNS01ChallengeRecord(token string) (string, error)
	Accept(ctx context.Context, chal *acme.Challenge) (*acme.Challenge, error)
	WaitAuthorization(ctx context.Context, url string) (*acme.Authorization, error)
}

// handleAuthorizations works through every authorization on the order and
// reports each domain's outcome, satisfied or failed, before returning.
func (s *Service) handleAuthorizations(ctx context.Context, client acmeAuthorizer, authzURLs []string, mapping map[string]string, reporter jobs.Reporter, base int) error {
	span := certmgr.ACMEAuthzProgressCeiling - base
	if span < 0 {
		span = 0
	}
	for i, authzURL := range authzURLs {
		domain, err := s.authorize(ctx, client, authzURL, mapping)
		progress := base + span*(i+1)/len(authzURLs)
		if err != nil {
			msg := fmt.Sprintf("DNS challenge failed for %s", domain)
			if domain == "" {
				msg = "Failed to fetch authorization"
			}
			reporter.SetProgress(progress, msg)
			return err
		}
		reporter.SetProgress(progress, fmt.Sprintf("DNS challenge satisfied for %s", domain))
	}
	return nil
}

// authorize satisfies one authorization with its mapped DNS authenticator.
// The domain is returned as soon as it is known so failures can be reported
// against it.
func (s *Service) authorize(ctx context.Context, client acmeAuthorizer, authzURL string, mapping map[string]string) (string, error) {
	authz, err := client.GetAuthorization(ctx, authzURL)
	if err != nil {
		return "", fmt.Errorf("fetching authorization: %w", err)
	}
	domain := authz.Identifier.Value
	if authz.Status == acme.StatusValid {
		return domain, nil
	}
	mappingKey := domain
	if authz.Wildcard {
		mappingKey = "*." + domain
	}
	authID, ok := mapping[mappingKey]
	if !ok {
		// Some CAs return the identifier without the wildcard flag set on
		// pending authorizations; fall back to the bare domain.
		authID, ok = mapping[domain]
	}
	if !ok {
		return domain, fmt.Errorf("no DNS authenticator mapped for %q", mappingKey)
	}
	auth, err := s.auths.Get(authID)
	if err != nil {
		return domain, err
	}

	var challenge *acme.Challenge
	for _, c := range authz.Challenges {
		if c.Type == "dns-01" {
			challenge = c
			break
		}
	}
	if challenge == nil {
		return domain, fmt.Errorf("authorization for %q offers no dns-01 challenge", domain)
	}

	value, err := client.DNS01ChallengeRecord(challenge.Token)
	if err != nil {
		return domain, fmt.Errorf("computing dns-01 record: %w", err)
	}
	recordName := "_acme-challenge." + domain

	s.logger.Debug("publishing dns-01 record", "domain", domain, "record", recordName)
	if err := auth.SetTXT(ctx, recordName, value); err != nil {
		return domain, fmt.Errorf("publishing TXT record for %q: %w", domain, err)
	}
	defer func() {
		if err := auth.UnsetTXT(context.WithoutCancel(ctx), recordName, value); err != nil {
			s.logger.Warn("removing dns-01 record", "domain", domain, "err", err)
		}
	}()

	if _, err := client.Accept(ctx, challenge); err != nil {
		return domain, fmt.Errorf("accepting challenge for %q: %w", domain, err)
	}
	if _, err := client.WaitAuthorization(ctx, authz.URI); err != nil {
		return domain, fmt.Errorf("authorization for %q: %w", domain, err)
	}
	return domain, nil
}

// Revoke revokes a certificate with the account that obtained it.
func (s *Service) Revoke(ctx context.Context, registrationID, certPEM string) error {
	reg, err := s.registry.get(registrationID)
	if err != nil {
		return fmt.Errorf("looking up ACME registration: %w", err)
	}
	key, err := s.registry.accountKey(reg)
	if err != nil {
		return err
	}
	cert, err := pki.ParseCertificatePEM(certPEM)
	if err != nil {
		return err
	}
	client := &acme.Client{Key: key, DirectoryURL: reg.DirectoryURL}
	if err := client.RevokeCert(ctx, nil, cert.Raw, acme.CRLReasonUnspecified); err != nil {
		return fmt.Errorf("revoking certificate: %w", err)
	}
	return nil
}
