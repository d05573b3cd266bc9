package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/RaphaelSchmid/ShipLog/app/models"
)

// memRepo is an in-memory Repository mirroring the SQL semantics the GORM
// implementation relies on: conditional writes, guarded increments, and
// unique-key deduplication.
type memRepo struct {
	mu     sync.Mutex
	users  map[uint]*models.User
	ents   map[uint]*models.UserEntitlement
	events map[string]*models.BillingWebhookEvent
	flags  []*models.BillingFlag
	nextID uint

	failWrites bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:  make(map[uint]*models.User),
		ents:   make(map[uint]*models.UserEntitlement),
		events: make(map[string]*models.BillingWebhookEvent),
	}
}

func (r *memRepo) addUser(id uint, email, role string) {
	r.users[id] = &models.User{ID: id, Name: fmt.Sprintf("user%d", id), Email: email, Role: role}
}

func (r *memRepo) addEntitlement(e *models.UserEntitlement) {
	cp := *e
	r.ents[e.UserID] = &cp
}

func (r *memRepo) entitlement(userID uint) models.UserEntitlement {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.ents[userID]
}

func (r *memRepo) webhookEvent(eventID string) models.BillingWebhookEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.events[ProviderName+"/"+eventID]
}

func (r *memRepo) GetUser(userID uint) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *memRepo) GetEntitlementByUserID(userID uint) (*models.UserEntitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.ents[userID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *e
	return &cp, nil
}

func (r *memRepo) GetEntitlementBySubscriptionRef(ref string) (*models.UserEntitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref == "" {
		return nil, gorm.ErrRecordNotFound
	}
	for _, e := range r.ents {
		if e.BillingSubscriptionRef == ref {
			cp := *e
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) GetEntitlementByCustomerRef(ref string) (*models.UserEntitlement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ref == "" {
		return nil, gorm.ErrRecordNotFound
	}
	for _, e := range r.ents {
		if e.BillingCustomerRef == ref {
			cp := *e
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memRepo) CreateEntitlement(e *models.UserEntitlement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.ents[e.UserID] = &cp
	return nil
}

func (r *memRepo) SaveCustomerRef(userID uint, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites {
		return fmt.Errorf("write failed")
	}
	e, ok := r.ents[userID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if e.BillingCustomerRef == "" || e.BillingCustomerRef == ref {
		e.BillingCustomerRef = ref
	}
	return nil
}

func (r *memRepo) ApplyTransition(userID uint, fromStatus string, set map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWrites {
		return false, fmt.Errorf("write failed")
	}
	e, ok := r.ents[userID]
	if !ok || e.Status != fromStatus {
		return false, nil
	}
	for key, val := range set {
		switch key {
		case "status":
			e.Status = val.(string)
		case "plan":
			e.Plan = val.(string)
		case "generations_used":
			e.GenerationsUsed = val.(int)
		case "has_had_trial":
			// monotonic: a false write is dropped, like the SQL layer does
			if b, _ := val.(bool); b {
				e.HasHadTrial = true
			}
		case "billing_subscription_ref":
			e.BillingSubscriptionRef = val.(string)
		case "billing_customer_ref":
			e.BillingCustomerRef = val.(string)
		case "subscription_ends_at":
			e.SubscriptionEndsAt, _ = val.(*time.Time)
		case "trial_ends_at":
			e.TrialEndsAt, _ = val.(*time.Time)
		default:
			return false, fmt.Errorf("memRepo: unhandled column %q", key)
		}
	}
	return true, nil
}

func (r *memRepo) ConsumeGeneration(userID uint, limit int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.ents[userID]
	if !ok || e.GenerationsUsed >= limit {
		return false, nil
	}
	e.GenerationsUsed++
	return true, nil
}

func (r *memRepo) ResetUsage(userID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.ents[userID]; ok {
		e.GenerationsUsed = 0
	}
	return nil
}

func (r *memRepo) ResetUsageForStatuses(statuses []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.ents {
		for _, s := range statuses {
			if e.Status == s {
				e.GenerationsUsed = 0
				n++
				break
			}
		}
	}
	return n, nil
}

func (r *memRepo) CreateWebhookEventIfNotExists(event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := r.events[key]; ok {
		cp := *stored
		return false, &cp, nil
	}
	r.nextID++
	event.ID = r.nextID
	cp := *event
	r.events[key] = &cp
	out := cp
	return true, &out, nil
}

func (r *memRepo) MarkWebhookProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	for _, ev := range r.events {
		if ev.ID == id {
			ev.ProcessedAt = &now
			ev.ProcessingError = processingError
		}
	}
	return nil
}

func (r *memRepo) CreateFlag(flag *models.BillingFlag) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *flag
	r.flags = append(r.flags, &cp)
	return nil
}

// fakeProvider scripts provider behavior for tests.
type fakeProvider struct {
	mu               sync.Mutex
	customersByEmail map[string]string
	history          map[string]bool
	subs             map[string]*ProviderSubscription
	err              error

	createdCustomers int
	endTrialCalls    []string
	cancelCalls      []string
	lastCheckout     CheckoutParams
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		customersByEmail: make(map[string]string),
		history:          make(map[string]bool),
		subs:             make(map[string]*ProviderSubscription),
	}
}

func (p *fakeProvider) FindCustomerByEmail(ctx context.Context, email string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	return p.customersByEmail[email], nil
}

func (p *fakeProvider) CreateCustomer(ctx context.Context, email, name string, userID uint) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.createdCustomers++
	id := fmt.Sprintf("cus_new_%d", p.createdCustomers)
	p.customersByEmail[email] = id
	return id, nil
}

func (p *fakeProvider) HasSubscriptionHistory(ctx context.Context, customerID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return false, p.err
	}
	return p.history[customerID], nil
}

func (p *fakeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	sub, ok := p.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	cp := *sub
	return &cp, nil
}

func (p *fakeProvider) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.lastCheckout = params
	return "https://checkout.test/session", nil
}

func (p *fakeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	return "https://portal.test/" + customerID, nil
}

func (p *fakeProvider) EndTrialNow(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.endTrialCalls = append(p.endTrialCalls, subscriptionID)
	sub, ok := p.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	sub.Status = "active"
	sub.TrialEnd = nil
	cp := *sub
	return &cp, nil
}

func (p *fakeProvider) CancelSubscription(ctx context.Context, subscriptionID string) (*ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.cancelCalls = append(p.cancelCalls, subscriptionID)
	sub, ok := p.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	sub.Status = "canceled"
	cp := *sub
	return &cp, nil
}
