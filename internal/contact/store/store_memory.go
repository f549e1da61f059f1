package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"idlink/internal/contact/models"
	"idlink/pkg/platform/sentinel"
)

// Memory is an in-memory contact store for unit tests and local development.
// It mirrors the Postgres store's ordering and soft-delete semantics exactly
// so services behave identically against either implementation.
type Memory struct {
	mu       sync.RWMutex
	nextID   int64
	contacts map[int64]models.Contact
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{nextID: 1, contacts: make(map[int64]models.Contact)}
}

func (s *Memory) FindActiveByIdentifier(_ context.Context, email, phone *string) ([]models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []models.Contact
	for _, c := range s.contacts {
		if !c.IsActive() {
			continue
		}
		if email != nil && c.Email != nil && *c.Email == *email {
			matches = append(matches, c)
			continue
		}
		if phone != nil && c.Phone != nil && *c.Phone == *phone {
			matches = append(matches, c)
		}
	}
	sortByCreation(matches)
	return matches, nil
}

func (s *Memory) FindPrimaries(_ context.Context, ids []int64) ([]models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var primaries []models.Contact
	for _, id := range ids {
		c, ok := s.contacts[id]
		if ok && c.IsActive() && c.Precedence == models.PrecedencePrimary {
			primaries = append(primaries, c)
		}
	}
	sortByCreation(primaries)
	return primaries, nil
}

func (s *Memory) FindCluster(_ context.Context, primaryID int64) ([]models.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cluster []models.Contact
	for _, c := range s.contacts {
		if !c.IsActive() {
			continue
		}
		if c.ID == primaryID || (c.LinkedID != nil && *c.LinkedID == primaryID) {
			cluster = append(cluster, c)
		}
	}
	sortByCreation(cluster)
	return cluster, nil
}

func (s *Memory) Insert(_ context.Context, contact models.NewContact) (models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	created := models.Contact{
		ID:         s.nextID,
		Email:      copyOpt(contact.Email),
		Phone:      copyOpt(contact.Phone),
		LinkedID:   copyOptID(contact.LinkedID),
		Precedence: contact.Precedence,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.nextID++
	s.contacts[created.ID] = created
	return created, nil
}

func (s *Memory) Relink(_ context.Context, absorbedID, rootID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for id, c := range s.contacts {
		if !c.IsActive() {
			continue
		}
		if c.ID == absorbedID || (c.LinkedID != nil && *c.LinkedID == absorbedID) {
			root := rootID
			c.Precedence = models.PrecedenceSecondary
			c.LinkedID = &root
			c.UpdatedAt = now
			s.contacts[id] = c
		}
	}
	return nil
}

// SoftDelete tombstones a contact. Not part of the reconciliation flow; kept
// for operational tooling and to verify tombstoned rows stay invisible.
// Returns sentinel.ErrNotFound when no active contact carries the id.
func (s *Memory) SoftDelete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contacts[id]
	if !ok || !c.IsActive() {
		return fmt.Errorf("soft delete contact %d: %w", id, sentinel.ErrNotFound)
	}
	now := time.Now().UTC()
	c.DeletedAt = &now
	c.UpdatedAt = now
	s.contacts[id] = c
	return nil
}

// Snapshot captures the full store state for transactional rollback.
func (s *Memory) Snapshot() any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	copied := make(map[int64]models.Contact, len(s.contacts))
	for id, c := range s.contacts {
		copied[id] = c
	}
	return memorySnapshot{nextID: s.nextID, contacts: copied}
}

// Restore resets the store to a previously captured snapshot.
func (s *Memory) Restore(snapshot any) {
	snap, ok := snapshot.(memorySnapshot)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.contacts = snap.contacts
}

type memorySnapshot struct {
	nextID   int64
	contacts map[int64]models.Contact
}

func sortByCreation(contacts []models.Contact) {
	sort.Slice(contacts, func(i, j int) bool {
		if contacts[i].CreatedAt.Equal(contacts[j].CreatedAt) {
			return contacts[i].ID < contacts[j].ID
		}
		return contacts[i].CreatedAt.Before(contacts[j].CreatedAt)
	})
}

func copyOpt(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func copyOptID(v *int64) *int64 {
	if v == nil {
		return nil
	}
	id := *v
	return &id
}
