package certmgr

import (
	"fmt"

	"github.com/certward/certward/storage"
)

// NextSerial computes a serial number strictly greater than every serial
// already used within the CA hierarchy containing caID. The computation is
// always rooted at the top-level authority: the whole subtree under that root
// is aggregated, so serials never collide anywhere in the hierarchy, at the
// cost of being hierarchy-global rather than tightly packed.
//
// Records whose serial was never assigned (legacy zero values) are ignored.
// An unknown caID is a precondition violation surfaced as a lookup error.
func (s *Store) NextSerial(caID string) (int64, error) {
	root, err := s.getRecord(storage.KindAuthority, caID)
	if err != nil {
		return 0, fmt.Errorf("looking up authority %s: %w", caID, err)
	}

	// Climb to the top-level root of the hierarchy.
	for root.SignedBy != "" {
		parent, err := s.getRecord(storage.KindAuthority, root.SignedBy)
		if err != nil {
			return 0, fmt.Errorf("looking up parent authority %s: %w", root.SignedBy, err)
		}
		root = parent
	}

	// Depth-first traversal over the root's subtree with an explicit stack;
	// hierarchies are user-defined and may be arbitrarily deep. Only the
	// maximum matters, so visit order is irrelevant.
	var serials []int64
	serials = append(serials, root.Serial)

	stack := []string{root.ID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		certs, err := s.certificatesSignedBy(id)
		if err != nil {
			return 0, err
		}
		for _, cert := range certs {
			serials = append(serials, cert.Serial)
		}

		children, err := s.authoritiesSignedBy(id)
		if err != nil {
			return 0, err
		}
		for _, child := range children {
			serials = append(serials, child.Serial)
			stack = append(stack, child.ID)
		}
	}

	var max int64
	seen := false
	for _, serial := range serials {
		if serial == 0 {
			continue
		}
		seen = true
		if serial > max {
			max = serial
		}
	}
	if !seen {
		return root.Serial + 1, nil
	}
	return max + 1, nil
}
