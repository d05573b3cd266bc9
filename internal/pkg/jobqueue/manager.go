package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/RaphaelSchmid/ShipLog/internal/pkg/billing"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/cache"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/database"
	"github.com/RaphaelSchmid/ShipLog/internal/pkg/entitlements"
)

const usageResetMarkerPrefix = "usage_reset:"

// Manager manages the global job queue and background tasks
type Manager struct {
	queue       *Queue
	resetTicker *time.Ticker
	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.Mutex
	running     bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global job queue manager (singleton)
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			queue:  NewQueue(2),
			stopCh: make(chan struct{}),
		}
		globalManager.queue.RegisterProcessor(JobTypeUsageReset, processUsageResetJob)
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

	m.queue.Start()

	// Check once an hour whether a new billing period began. The Redis
	// marker guarantees exactly one instance enqueues the reset per period.
	m.resetTicker = time.NewTicker(time.Hour)
	m.wg.Add(1)
	go m.usageResetScheduler()

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

	if m.resetTicker != nil {
		m.resetTicker.Stop()
	}

	close(m.stopCh)
	m.running = false
	m.wg.Wait()
	m.queue.Stop()

	log.Info("[JobQueue Manager] Stopped successfully")
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// usageResetScheduler enqueues one usage reset job per calendar month.
func (m *Manager) usageResetScheduler() {
	defer m.wg.Done()

	// Run once at startup so a restart at the period boundary cannot skip it.
	m.scheduleUsageResetOnce()

	for {
		select {
		case <-m.stopCh:
			log.Info("[JobQueue Manager] Usage reset scheduler stopping")
			return
		case <-m.resetTicker.C:
			m.scheduleUsageResetOnce()
		}
	}
}

func (m *Manager) scheduleUsageResetOnce() {
	period := CurrentPeriod(time.Now())

	// Marker TTL outlives the period so a late replica cannot re-run it.
	won, err := cache.AcquireOnce(usageResetMarkerPrefix+period, 40*24*time.Hour)
	if err != nil {
		log.Errorf("[JobQueue Manager] Usage reset marker check failed: %v", err)
		return
	}
	if !won {
		return
	}

	payload := UsageResetJobPayload{Period: period}
	if _, err := m.queue.EnqueueJob(JobTypeUsageReset, payload.ToMap()); err != nil {
		log.Errorf("[JobQueue Manager] Failed to enqueue usage reset for %s: %v", period, err)
		// Give the marker back so the next tick can try again.
		_ = cache.Delete(usageResetMarkerPrefix + period)
	}
}

// CurrentPeriod formats the billing period a timestamp belongs to.
func CurrentPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// processUsageResetJob zeroes generation counters for every entitlement in an
// access-granting status. Renewal webhooks already reset paying users per
// cycle; this sweep covers trial users, who have no invoices, and doubles as
// a safety net for missed renewal events.
func processUsageResetJob(ctx context.Context, job *Job) error {
	payload, err := UsageResetJobPayloadFromMap(job.Payload)
	if err != nil {
		return err
	}

	repo := billing.NewRepository(database.GetDB())
	n, err := repo.ResetUsageForStatuses([]string{
		string(entitlements.StatusTrialing),
		string(entitlements.StatusActive),
	})
	if err != nil {
		return err
	}

	log.Infof("[JobQueue] Usage reset for period %s cleared %d counters", payload.Period, n)
	return nil
}
