package acmeclient

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/acme"

	"github.com/certward/certward/internal/uuid"
	"github.com/certward/certward/pki"
	"github.com/certward/certward/storage"
)

// accountKeyBits sizes generated ACME account keys.
const accountKeyBits = 2048

// Registration is the persisted ACME account state for one directory.
type Registration struct {
	ID           string   `json:"id"`
	DirectoryURL string   `json:"directory_url"`
	AccountURI   string   `json:"account_uri"`
	// Key is the PKCS#1 DER account key, PEM-armored.
	Key     string   `json:"key"`
	Contact []string `json:"contact,omitempty"`
}

// registry manages persisted ACME account registrations. Account keys are
// held in memguard enclaves between uses so decrypted key material is not
// left lying around the heap.
type registry struct {
	repo storage.Repository

	mu   sync.Mutex
	keys map[string]*memguard.Enclave
}

func newRegistry(repo storage.Repository) *registry {
	return &registry{repo: repo, keys: make(map[string]*memguard.Enclave)}
}

// find returns the registration for a directory URL, or nil when absent.
func (r *registry) find(directoryURL string) (*Registration, error) {
	ids, err := r.repo.List(storage.KindACMERegistration)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		data, err := r.repo.Get(storage.KindACMERegistration, id)
		if err != nil {
			return nil, err
		}
		var reg Registration
		if err := json.Unmarshal(data, &reg); err != nil {
			return nil, fmt.Errorf("decoding ACME registration %s: %w", id, err)
		}
		if reg.DirectoryURL == directoryURL {
			return &reg, nil
		}
	}
	return nil, nil
}

// lookupOrRegister returns the registration for a directory, creating the
// account on the directory server when none exists yet.
func (r *registry) lookupOrRegister(ctx context.Context, directoryURL string, tos bool) (*Registration, error) {
	reg, err := r.find(directoryURL)
	if err != nil {
		return nil, err
	}
	if reg != nil {
		return reg, nil
	}
	if !tos {
		return nil, fmt.Errorf("terms of service must be accepted to register with %s", directoryURL)
	}

	key, err := pki.GenerateKey(accountKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generating account key: %w", err)
	}
	keyPEM, err := pki.ExportPrivateKeyPEM(key, "")
	if err != nil {
		return nil, err
	}

	client := &acme.Client{Key: key, DirectoryURL: directoryURL}
	account, err := client.Register(ctx, &acme.Account{}, acme.AcceptTOS)
	if err != nil {
		return nil, fmt.Errorf("registering account with %s: %w", directoryURL, err)
	}

	reg = &Registration{
		ID:           uuid.New(),
		DirectoryURL: directoryURL,
		AccountURI:   account.URI,
		Key:          keyPEM,
	}
	data, err := json.Marshal(reg)
	if err != nil {
		return nil, fmt.Errorf("encoding ACME registration: %w", err)
	}
	if err := r.repo.Put(storage.KindACMERegistration, reg.ID, data); err != nil {
		return nil, err
	}
	return reg, nil
}

// get returns a registration by ID.
func (r *registry) get(id string) (*Registration, error) {
	data, err := r.repo.Get(storage.KindACMERegistration, id)
	if err != nil {
		return nil, err
	}
	var reg Registration
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("decoding ACME registration %s: %w", id, err)
	}
	return &reg, nil
}

// accountKey parses the registration's account key, caching the DER bytes
// in a sealed enclave keyed by registration ID.
func (r *registry) accountKey(reg *Registration) (*rsa.PrivateKey, error) {
	r.mu.Lock()
	enclave := r.keys[reg.ID]
	r.mu.Unlock()

	if enclave == nil {
		signer, err := pki.ParsePrivateKeyPEM(reg.Key, "")
		if err != nil {
			return nil, fmt.Errorf("parsing account key: %w", err)
		}
		rsaKey, ok := signer.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("account key is not RSA")
		}
		enclave = memguard.NewEnclave(x509.MarshalPKCS1PrivateKey(rsaKey))
		r.mu.Lock()
		r.keys[reg.ID] = enclave
		r.mu.Unlock()
	}

	buf, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening account key enclave: %w", err)
	}
	defer buf.Destroy()

	key, err := x509.ParsePKCS1PrivateKey(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("decoding cached account key: %w", err)
	}
	return key, nil
}
