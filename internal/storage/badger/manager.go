package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/peto/internal/common"
	"github.com/ternarybob/peto/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	session interfaces.VNCSessionStorage
	action  interfaces.ActionLogStorage
	batch   interfaces.BatchStorage
	kv      interfaces.KVStorage
	logger  arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:      db,
		session: NewVNCSessionStorage(db, logger),
		action:  NewActionLogStorage(db, logger),
		batch:   NewBatchStorage(db, logger),
		kv:      NewKVStorage(db, logger),
		logger:  logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// VNCSessionStorage returns the VNC session storage interface
func (m *Manager) VNCSessionStorage() interfaces.VNCSessionStorage {
	return m.session
}

// ActionLogStorage returns the action log storage interface
func (m *Manager) ActionLogStorage() interfaces.ActionLogStorage {
	return m.action
}

// BatchStorage returns the batch storage interface
func (m *Manager) BatchStorage() interfaces.BatchStorage {
	return m.batch
}

// KeyValueStorage returns the key/value storage interface
func (m *Manager) KeyValueStorage() interfaces.KVStorage {
	return m.kv
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
