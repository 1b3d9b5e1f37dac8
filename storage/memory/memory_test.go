package memory

import (
	"errors"
	"testing"

	"github.com/certward/certward/storage"
)

func TestMemoryRepository(t *testing.T) {
	repo := NewRepository()

	t.Run("PutAndGet", func(t *testing.T) {
		if err := repo.Put(storage.KindCertificate, "id1", []byte("data1")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}

		got, err := repo.Get(storage.KindCertificate, "id1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "data1" {
			t.Errorf("Get returned wrong data: %q", got)
		}

		// Test isolation (cloning)
		got[0] = 'X'
		got2, _ := repo.Get(storage.KindCertificate, "id1")
		if got2[0] == 'X' {
			t.Error("Memory repository should return copies of stored data")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		_, err := repo.Get(storage.KindCertificate, "nonexistent")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}

		_, err = repo.Get("unknown-kind", "id1")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound for unknown kind, got %v", err)
		}
	})

	t.Run("KindsAreIsolated", func(t *testing.T) {
		repo.Put(storage.KindAuthority, "id1", []byte("ca"))
		got, err := repo.Get(storage.KindCertificate, "id1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "data1" {
			t.Errorf("Kinds should not share records: %q", got)
		}
	})

	t.Run("ListSorted", func(t *testing.T) {
		repo := NewRepository()
		repo.Put(storage.KindCertificate, "b", []byte("2"))
		repo.Put(storage.KindCertificate, "a", []byte("1"))
		repo.Put(storage.KindCertificate, "c", []byte("3"))

		ids, err := repo.List(storage.KindCertificate)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "c" {
			t.Errorf("Expected sorted [a b c], got %v", ids)
		}

		ids, _ = repo.List("empty-kind")
		if len(ids) != 0 {
			t.Errorf("Expected no IDs for empty kind, got %v", ids)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		repo := NewRepository()
		repo.Put(storage.KindCertificate, "id1", []byte("data"))
		if err := repo.Delete(storage.KindCertificate, "id1"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := repo.Get(storage.KindCertificate, "id1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound after delete, got %v", err)
		}
		if err := repo.Delete(storage.KindCertificate, "id1"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
		}
	})
}
