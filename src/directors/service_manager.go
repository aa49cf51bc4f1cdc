package directors

import (
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"shelfdb/src/engine"
)

// ServiceManager holds the process-wide database session used by the CLI.
type ServiceManager struct {
	Database *engine.Database
	Journal  *engine.Journal
	API      *API
	logger   *zap.SugaredLogger
}

// Private instance and mutex for thread safety
var (
	instance *ServiceManager
	once     sync.Once
	mu       sync.RWMutex
)

// GetServiceManager returns the singleton instance of ServiceManager
func GetServiceManager() *ServiceManager {
	mu.RLock()
	defer mu.RUnlock()

	if instance == nil {
		// If someone tries to get the instance before initialization,
		// return a basic empty instance
		return &ServiceManager{}
	}
	return instance
}

// InitServiceManager initializes the ServiceManager singleton. journal may be nil.
func InitServiceManager(db *engine.Database, journal *engine.Journal, logger *zap.SugaredLogger) *ServiceManager {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()

		instance = &ServiceManager{
			Database: db,
			Journal:  journal,
			API:      NewAPI(db, journal, logger),
			logger:   logger,
		}

		if logger != nil {
			logger.Debug("ServiceManager singleton initialized")
		}
	})

	return instance
}

// Execute runs one text command through the shared API.
func (sm *ServiceManager) Execute(command string) (*Result, error) {
	mu.Lock()
	defer mu.Unlock()
	if sm.API == nil {
		return nil, engine.ErrNotLive
	}
	return CommandDirector(sm.API, command)
}

// Close releases the journal.
func (sm *ServiceManager) Close() error {
	var err error
	if sm.Journal != nil {
		err = multierr.Append(err, sm.Journal.Close())
	}
	return err
}

// ResetServiceManager is useful for testing - it resets the singleton
func ResetServiceManager() {
	mu.Lock()
	defer mu.Unlock()

	instance = nil
	once = sync.Once{}
}
