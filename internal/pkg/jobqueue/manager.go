package jobqueue

import (
	"strconv"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/TobiasKnoll/SubSync/app/models"
	"github.com/TobiasKnoll/SubSync/internal/pkg/database"
	"github.com/TobiasKnoll/SubSync/internal/pkg/env"
)

const staleEventAge = 10 * time.Minute

// Manager manages the global job queue and background tasks
type Manager struct {
	queue            *Queue
	staleEventTicker *time.Ticker
	stopCh           chan struct{}
	wg               sync.WaitGroup
	mu               sync.Mutex
	running          bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		workerCount := 3
		if raw := env.GetEnv("JOBQUEUE_WORKER_COUNT", ""); raw != "" {
			if n, err := strconv.Atoi(raw); err == nil && n > 0 {
				workerCount = n
			}
		}

		globalManager = &Manager{
			queue:  NewQueue(workerCount),
			stopCh: make(chan struct{}),
		}
	})
	return globalManager
}

// GetQueue returns the managed job queue
func (m *Manager) GetQueue() *Queue {
	return m.queue
}

// Start starts the job queue and background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting job queue and background tasks")

	// Start the job queue
	m.queue.Start()

	// Events claimed but never finished indicate a crash mid-apply; they are
	// resumed by the provider's redelivery, but surfacing them early helps
	// support catch deliveries the provider gave up on.
	m.staleEventTicker = time.NewTicker(5 * time.Minute)
	m.wg.Add(1)
	go m.staleEventWorker()

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the job queue and background tasks
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping job queue and background tasks...")

	if m.staleEventTicker != nil {
		m.staleEventTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	// Stop the job queue
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// staleEventWorker periodically reports provider events that were claimed but
// never marked processed.
func (m *Manager) staleEventWorker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Stale event worker stopping")
			return
		case <-m.staleEventTicker.C:
			if err := m.reportStaleEventsOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Stale event check error: %v", err)
			}
		}
	}
}

func (m *Manager) reportStaleEventsOnce() error {
	db := database.GetDB()
	if db == nil {
		return nil
	}
	cutoff := time.Now().Add(-staleEventAge)
	var count int64
	err := db.Model(&models.BillingEvent{}).
		Where("processed_at IS NULL AND created_at < ?", cutoff).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		log.Warnf("[JobQueue Manager] %d billing events older than %s are still unprocessed", count, staleEventAge)
	}
	return nil
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}
