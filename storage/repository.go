// Package storage provides the storage abstraction layer for PKI records.
package storage

import "errors"

// ErrNotFound is returned when a record does not exist in the repository.
var ErrNotFound = errors.New("record not found")

// Record kinds. Each kind lives in its own keyspace; record IDs are only
// unique within a kind.
const (
	KindCertificate      = "certificate"
	KindAuthority        = "authority"
	KindACMERegistration = "acme_registration"
	KindSettings         = "settings"
)

// Repository defines the interface for raw record storage. Values are opaque
// encoded records; interpretation belongs to the caller. Implementations must
// serialize writes to a single record.
type Repository interface {
	Put(kind string, id string, data []byte) error
	Get(kind string, id string) ([]byte, error)
	Delete(kind string, id string) error
	List(kind string) ([]string, error)
}
