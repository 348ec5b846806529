package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"onionchat/internal/models"
	"onionchat/pkg/daemon/types"

	"github.com/sirupsen/logrus"
)

// ContactDirectory is what the chat session needs from the contact list.
type ContactDirectory interface {
	Refresh(ctx context.Context) error
}

// ContactLoader fetches the daemon's contact directory.
type ContactLoader interface {
	LoadContacts(ctx context.Context) ([]types.Contact, error)
}

// ContactService keeps the last contact directory snapshot fetched from the
// daemon. Contact CRUD stays in the daemon.
type ContactService struct {
	loader ContactLoader
	logger *logrus.Logger

	mu          sync.RWMutex
	contacts    []models.Contact
	byID        map[string]models.Contact
	refreshedAt time.Time
	onChange    []func([]models.Contact)
}

func NewContactService(loader ContactLoader, logger *logrus.Logger) *ContactService {
	return &ContactService{
		loader: loader,
		logger: logger,
		byID:   make(map[string]models.Contact),
	}
}

// Refresh reloads the directory. On failure the previous snapshot is kept.
func (cs *ContactService) Refresh(ctx context.Context) error {
	wire, err := cs.loader.LoadContacts(ctx)
	if err != nil {
		return fmt.Errorf("failed to load contacts: %w", err)
	}

	contacts := make([]models.Contact, 0, len(wire))
	byID := make(map[string]models.Contact, len(wire))
	for _, c := range wire {
		contact := models.Contact{
			OnionID:        c.Onion,
			Nickname:       c.Nickname,
			UnreadMessages: c.UnreadMessages,
		}
		contacts = append(contacts, contact)
		byID[contact.OnionID] = contact
	}

	cs.mu.Lock()
	cs.contacts = contacts
	cs.byID = byID
	cs.refreshedAt = time.Now()
	listeners := append([]func([]models.Contact){}, cs.onChange...)
	cs.mu.Unlock()

	cs.logger.WithFields(logrus.Fields{
		LogFieldComponent: "contacts",
		LogFieldCount:     len(contacts),
	}).Debug("Contact directory refreshed")

	for _, fn := range listeners {
		fn(contacts)
	}
	return nil
}

// Contacts returns the last snapshot.
func (cs *ContactService) Contacts() []models.Contact {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return append([]models.Contact(nil), cs.contacts...)
}

// Lookup finds a contact by onion address.
func (cs *ContactService) Lookup(onionID string) (models.Contact, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	c, ok := cs.byID[onionID]
	return c, ok
}

// RefreshedAt is the time of the last successful refresh.
func (cs *ContactService) RefreshedAt() time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.refreshedAt
}

// OnChange registers fn to be called with every new snapshot.
func (cs *ContactService) OnChange(fn func([]models.Contact)) {
	cs.mu.Lock()
	cs.onChange = append(cs.onChange, fn)
	cs.mu.Unlock()
}
