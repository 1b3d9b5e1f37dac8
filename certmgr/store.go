package certmgr

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/certward/certward/internal/uuid"
	"github.com/certward/certward/storage"
)

// settingsID keys the single system settings record.
const settingsID = "system"

// Store is the typed record store for certificates and authorities. Every
// read goes through the extender, so callers always see the derived view.
type Store struct {
	repo   storage.Repository
	logger *slog.Logger
}

// NewStore wraps a repository. A nil logger falls back to slog.Default().
func NewStore(repo storage.Repository, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, logger: logger}
}

// ---------------------------------------------------------------------------
// Raw record access
// ---------------------------------------------------------------------------

func (s *Store) getRecord(kind, id string) (*Record, error) {
	data, err := s.repo.Get(kind, id)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding %s record %s: %w", kind, id, err)
	}
	return &rec, nil
}

func (s *Store) putRecord(kind string, rec *Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding %s record: %w", kind, err)
	}
	return s.repo.Put(kind, rec.ID, data)
}

func (s *Store) listRecords(kind string) ([]*Record, error) {
	ids, err := s.repo.List(kind)
	if err != nil {
		return nil, err
	}
	recs := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.getRecord(kind, id)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Name < recs[j].Name })
	return recs, nil
}

func kindFor(t RecordType) string {
	if t.IsCA() {
		return storage.KindAuthority
	}
	return storage.KindCertificate
}

// ---------------------------------------------------------------------------
// Extended reads
// ---------------------------------------------------------------------------

// Certificate returns the derived view of a certificate record.
func (s *Store) Certificate(id string) (*Details, error) {
	rec, err := s.getRecord(storage.KindCertificate, id)
	if err != nil {
		return nil, err
	}
	return s.Extend(rec), nil
}

// Certificates returns the derived views of all certificate records.
func (s *Store) Certificates() ([]*Details, error) {
	return s.listExtended(storage.KindCertificate)
}

// Authority returns the derived view of a certificate authority record.
func (s *Store) Authority(id string) (*Details, error) {
	rec, err := s.getRecord(storage.KindAuthority, id)
	if err != nil {
		return nil, err
	}
	return s.Extend(rec), nil
}

// Authorities returns the derived views of all authority records.
func (s *Store) Authorities() ([]*Details, error) {
	return s.listExtended(storage.KindAuthority)
}

func (s *Store) listExtended(kind string) ([]*Details, error) {
	recs, err := s.listRecords(kind)
	if err != nil {
		return nil, err
	}
	out := make([]*Details, len(recs))
	for i, rec := range recs {
		out[i] = s.Extend(rec)
	}
	return out, nil
}

// NameExists reports whether a record of the given name exists in either
// store. Names are globally unique across certificates and authorities.
func (s *Store) NameExists(name string) (bool, error) {
	for _, kind := range []string{storage.KindCertificate, storage.KindAuthority} {
		recs, err := s.listRecords(kind)
		if err != nil {
			return false, err
		}
		for _, rec := range recs {
			if rec.Name == name {
				return true, nil
			}
		}
	}
	return false, nil
}

// certificatesSignedBy returns raw certificate records signed by the CA.
func (s *Store) certificatesSignedBy(caID string) ([]*Record, error) {
	return s.signedBy(storage.KindCertificate, caID)
}

// authoritiesSignedBy returns raw authority records signed by the CA.
func (s *Store) authoritiesSignedBy(caID string) ([]*Record, error) {
	return s.signedBy(storage.KindAuthority, caID)
}

func (s *Store) signedBy(kind, caID string) ([]*Record, error) {
	recs, err := s.listRecords(kind)
	if err != nil {
		return nil, err
	}
	var out []*Record
	for _, rec := range recs {
		if rec.SignedBy == caID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Insert persists a new record under the kind matching its type and returns
// its assigned ID.
func (s *Store) Insert(rec *Record) (string, error) {
	if err := s.putRecord(kindFor(rec.Type), rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Update overwrites an existing record.
func (s *Store) Update(rec *Record) error {
	kind := kindFor(rec.Type)
	if _, err := s.getRecord(kind, rec.ID); err != nil {
		return err
	}
	return s.putRecord(kind, rec)
}

// DeleteCertificate removes a certificate record.
func (s *Store) DeleteCertificate(id string) error {
	return s.repo.Delete(storage.KindCertificate, id)
}

// DeleteAuthority removes an authority record.
func (s *Store) DeleteAuthority(id string) error {
	return s.repo.Delete(storage.KindAuthority, id)
}

// ---------------------------------------------------------------------------
// System settings
// ---------------------------------------------------------------------------

// Settings holds appliance-wide certificate configuration.
type Settings struct {
	// ActiveCertificateID references the certificate serving the
	// administrative HTTPS interface.
	ActiveCertificateID string `json:"active_certificate_id"`
}

// Settings loads the system settings, returning zero values when none have
// been stored yet.
func (s *Store) Settings() (*Settings, error) {
	data, err := s.repo.Get(storage.KindSettings, settingsID)
	if errors.Is(err, storage.ErrNotFound) {
		return &Settings{}, nil
	}
	if err != nil {
		return nil, err
	}
	var settings Settings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	return &settings, nil
}

// SaveSettings persists the system settings.
func (s *Store) SaveSettings(settings *Settings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return s.repo.Put(storage.KindSettings, settingsID, data)
}
