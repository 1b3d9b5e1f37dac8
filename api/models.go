package api

import (
	"time"

	"github.com/certward/certward/certmgr"
)

// ErrorResponse is the generic error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ValidationErrorResponse carries field-tagged validation failures.
type ValidationErrorResponse struct {
	Error  string               `json:"error"`
	Fields []certmgr.FieldError `json:"fields"`
}

// RecordResponse is the JSON shape of a certificate or authority record,
// including the derived fields.
type RecordResponse struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Issuer string `json:"issuer"`

	Certificate string `json:"certificate,omitempty"`
	CSR         string `json:"csr,omitempty"`

	Serial   int64  `json:"serial,omitempty"`
	SignedBy string `json:"signedby,omitempty"`

	Country            string   `json:"country,omitempty"`
	State              string   `json:"state,omitempty"`
	City               string   `json:"city,omitempty"`
	Organization       string   `json:"organization,omitempty"`
	OrganizationalUnit string   `json:"organizational_unit,omitempty"`
	CommonName         string   `json:"common,omitempty"`
	Email              string   `json:"email,omitempty"`
	SAN                []string `json:"san"`

	DN        string   `json:"DN,omitempty"`
	ChainList []string `json:"chain_list"`

	RootPath        string `json:"root_path"`
	CertificatePath string `json:"certificate_path"`
	PrivateKeyPath  string `json:"privatekey_path"`
	CSRPath         string `json:"csr_path"`

	From  *time.Time `json:"from,omitempty"`
	Until *time.Time `json:"until,omitempty"`

	DigestAlgorithm string `json:"digest_algorithm,omitempty"`
	KeyLength       int    `json:"key_length,omitempty"`
	Lifetime        int    `json:"lifetime,omitempty"`
	Chain           bool   `json:"chain"`
	Internal        bool   `json:"internal"`
}

// recordResponse flattens the derived view for the wire. Private keys never
// leave the service.
func recordResponse(d *certmgr.Details) RecordResponse {
	return RecordResponse{
		ID:                 d.ID,
		Name:               d.Name,
		Type:               string(d.Type),
		Issuer:             d.Issuer.String(),
		Certificate:        d.Certificate,
		CSR:                d.CSR,
		Serial:             d.Serial,
		SignedBy:           d.SignedBy,
		Country:            d.Country,
		State:              d.State,
		City:               d.City,
		Organization:       d.Organization,
		OrganizationalUnit: d.OrganizationalUnit,
		CommonName:         d.CommonName,
		Email:              d.Email,
		SAN:                d.SANEntries,
		DN:                 d.DN,
		ChainList:          d.ChainList,
		RootPath:           d.RootPath,
		CertificatePath:    d.CertificatePath,
		PrivateKeyPath:     d.PrivateKeyPath,
		CSRPath:            d.CSRPath,
		From:               d.From,
		Until:              d.Until,
		DigestAlgorithm:    d.DigestAlgorithm,
		KeyLength:          d.KeyLength,
		Lifetime:           d.Lifetime,
		Chain:              d.Chain,
		Internal:           d.Internal,
	}
}

func recordResponses(details []*certmgr.Details) []RecordResponse {
	out := make([]RecordResponse, len(details))
	for i, d := range details {
		out[i] = recordResponse(d)
	}
	return out
}

// ListResponse wraps a record collection.
type ListResponse struct {
	Records []RecordResponse `json:"records"`
}

// UpdateRequest is the JSON body for PUT on a record: renames only.
type UpdateRequest struct {
	Name string `json:"name"`
}

// DeleteCertificateRequest is the optional JSON body for certificate DELETE.
type DeleteCertificateRequest struct {
	// Force deletes an ACME certificate even when revocation fails.
	Force bool `json:"force"`
}

// FingerprintResponse is returned from the fingerprint endpoint.
type FingerprintResponse struct {
	Fingerprint string `json:"fingerprint"`
}

// RenewResponse is returned from the renewal trigger.
type RenewResponse struct {
	// Errors lists per-certificate failures; empty means a clean sweep.
	Errors []string `json:"errors"`
}
