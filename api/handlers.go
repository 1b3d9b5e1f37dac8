package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/certward/certward/certmgr"
	"github.com/certward/certward/jobs"
)

// ListCertificates handles GET /certificates.
func (a *API) ListCertificates(w http.ResponseWriter, r *http.Request) {
	details, err := a.certs.Store().Certificates()
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Records: recordResponses(details)})
}

// GetCertificate handles GET /certificates/{certID}.
func (a *API) GetCertificate(w http.ResponseWriter, r *http.Request) {
	details, err := a.certs.Store().Certificate(chi.URLParam(r, "certID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse(details))
}

// CreateCertificate handles POST /certificates.
func (a *API) CreateCertificate(w http.ResponseWriter, r *http.Request) {
	var req certmgr.CertificateCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reporter := &jobs.Logged{Logger: a.logger, Name: "certificate_create"}
	details, err := a.certs.Create(r.Context(), req, reporter)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordResponse(details))
}

// UpdateCertificate handles PUT /certificates/{certID}.
func (a *API) UpdateCertificate(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	details, err := a.certs.Update(r.Context(), chi.URLParam(r, "certID"), req.Name)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse(details))
}

// DeleteCertificate handles DELETE /certificates/{certID}.
func (a *API) DeleteCertificate(w http.ResponseWriter, r *http.Request) {
	var req DeleteCertificateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := a.certs.Delete(r.Context(), chi.URLParam(r, "certID"), req.Force); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CertificateFingerprint handles GET /certificates/{certID}/fingerprint.
func (a *API) CertificateFingerprint(w http.ResponseWriter, r *http.Request) {
	fp, err := a.certs.Fingerprint(chi.URLParam(r, "certID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FingerprintResponse{Fingerprint: fp})
}

// RenewCertificates handles POST /certificates/renew: runs a renewal sweep
// synchronously and reports per-certificate failures.
func (a *API) RenewCertificates(w http.ResponseWriter, r *http.Request) {
	resp := RenewResponse{Errors: []string{}}
	if err := a.certs.RenewCertificates(r.Context()); err != nil {
		resp.Errors = strings.Split(err.Error(), "\n")
	}
	writeJSON(w, http.StatusOK, resp)
}

// ACMEServerChoices handles GET /acme/server_choices.
func (a *API) ACMEServerChoices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, certmgr.ACMEServerChoices())
}

// ListAuthorities handles GET /authorities.
func (a *API) ListAuthorities(w http.ResponseWriter, r *http.Request) {
	details, err := a.cas.Store().Authorities()
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse{Records: recordResponses(details)})
}

// GetAuthority handles GET /authorities/{caID}.
func (a *API) GetAuthority(w http.ResponseWriter, r *http.Request) {
	details, err := a.cas.Store().Authority(chi.URLParam(r, "caID"))
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse(details))
}

// CreateAuthority handles POST /authorities.
func (a *API) CreateAuthority(w http.ResponseWriter, r *http.Request) {
	var req certmgr.AuthorityCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	details, err := a.cas.Create(r.Context(), req)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordResponse(details))
}

// UpdateAuthority handles PUT /authorities/{caID}.
func (a *API) UpdateAuthority(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	details, err := a.cas.Update(r.Context(), chi.URLParam(r, "caID"), req.Name)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse(details))
}

// DeleteAuthority handles DELETE /authorities/{caID}.
func (a *API) DeleteAuthority(w http.ResponseWriter, r *http.Request) {
	if err := a.cas.Delete(r.Context(), chi.URLParam(r, "caID")); err != nil {
		mapError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SignCSR handles POST /authorities/{caID}/sign.
func (a *API) SignCSR(w http.ResponseWriter, r *http.Request) {
	var req certmgr.SignCSRRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.AuthorityID = chi.URLParam(r, "caID")
	details, err := a.cas.SignCSR(r.Context(), req)
	if err != nil {
		mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recordResponse(details))
}
