package db

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ukydev/fleet-maintenance/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps every collection in process memory. It backs STORE=memory
// and the package tests of the engine, projector and handlers.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[primitive.ObjectID]models.Request
	vehicles map[primitive.ObjectID]models.Vehicle
	sites    map[primitive.ObjectID]models.Site
	users    map[primitive.ObjectID]models.User
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[primitive.ObjectID]models.Request),
		vehicles: make(map[primitive.ObjectID]models.Vehicle),
		sites:    make(map[primitive.ObjectID]models.Site),
		users:    make(map[primitive.ObjectID]models.User),
	}
}

// NewMemoryStores wires a single MemoryStore behind every collection.
func NewMemoryStores() Stores {
	m := NewMemoryStore()
	return Stores{Requests: m, Vehicles: m, Sites: m, Users: m}
}

func parseID(id string) (primitive.ObjectID, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, ErrNotFound
	}
	return objectID, nil
}

// InsertRequest stores a copy of req, assigning its ID when unset.
func (m *MemoryStore) InsertRequest(ctx context.Context, req *models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.ID.IsZero() {
		req.ID = primitive.NewObjectID()
	}
	m.requests[req.ID] = *req
	return nil
}

// FindRequestByID returns a copy of the stored request.
func (m *MemoryStore) FindRequestByID(ctx context.Context, id string) (*models.Request, error) {
	objectID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	req, ok := m.requests[objectID]
	if !ok {
		return nil, ErrNotFound
	}
	return &req, nil
}

// FindRequests returns matching requests, newest first.
func (m *MemoryStore) FindRequests(ctx context.Context, filter RequestFilter) ([]models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Request{}
	for _, req := range m.requests {
		if filter.Matches(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Hex() > out[j].ID.Hex()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CompareAndSwapRequest swaps next in under the write lock when the stored
// status still equals expected.
func (m *MemoryStore) CompareAndSwapRequest(ctx context.Context, expected models.Status, next models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.requests[next.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != expected {
		return ErrStatusChanged
	}
	m.requests[next.ID] = next
	return nil
}

// InsertVehicle stores a vehicle.
func (m *MemoryStore) InsertVehicle(ctx context.Context, vehicle *models.Vehicle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.vehicles {
		if strings.EqualFold(v.Plate, vehicle.Plate) {
			return ErrDuplicate
		}
	}
	if vehicle.ID.IsZero() {
		vehicle.ID = primitive.NewObjectID()
	}
	if vehicle.CreatedAt.IsZero() {
		vehicle.CreatedAt = time.Now()
	}
	m.vehicles[vehicle.ID] = *vehicle
	return nil
}

// FindVehicleByID returns a stored vehicle.
func (m *MemoryStore) FindVehicleByID(ctx context.Context, id string) (*models.Vehicle, error) {
	objectID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	vehicle, ok := m.vehicles[objectID]
	if !ok {
		return nil, ErrNotFound
	}
	return &vehicle, nil
}

// FindVehicles returns vehicles ordered by plate.
func (m *MemoryStore) FindVehicles(ctx context.Context, siteID string) ([]models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Vehicle{}
	for _, v := range m.vehicles {
		if siteID == "" || v.SiteID == siteID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Plate < out[j].Plate })
	return out, nil
}

// InsertSite stores a site.
func (m *MemoryStore) InsertSite(ctx context.Context, site *models.Site) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if site.ID.IsZero() {
		site.ID = primitive.NewObjectID()
	}
	if site.CreatedAt.IsZero() {
		site.CreatedAt = time.Now()
	}
	m.sites[site.ID] = *site
	return nil
}

// FindSiteByID returns a stored site.
func (m *MemoryStore) FindSiteByID(ctx context.Context, id string) (*models.Site, error) {
	objectID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	site, ok := m.sites[objectID]
	if !ok {
		return nil, ErrNotFound
	}
	return &site, nil
}

// FindSites returns sites ordered by name.
func (m *MemoryStore) FindSites(ctx context.Context) ([]models.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Site, 0, len(m.sites))
	for _, s := range m.sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// InsertUser stores an active user.
func (m *MemoryStore) InsertUser(ctx context.Context, user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	user.IsActive = true
	m.users[user.ID] = user
	return nil
}

func (m *MemoryStore) findUser(match func(models.User) bool) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if match(u) {
			u.PushTokens = append([]string(nil), u.PushTokens...)
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// FindUserByID returns a stored user.
func (m *MemoryStore) FindUserByID(ctx context.Context, id string) (*models.User, error) {
	objectID, err := parseID(id)
	if err != nil {
		return nil, err
	}
	return m.findUser(func(u models.User) bool { return u.ID == objectID })
}

// FindUserByUsername returns a stored user by username.
func (m *MemoryStore) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return m.findUser(func(u models.User) bool { return u.Username == username })
}

// FindUserByEmail returns a stored user by email.
func (m *MemoryStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findUser(func(u models.User) bool { return u.Email == email })
}

// FindUsersByRole returns active users holding role, optionally scoped to a site.
func (m *MemoryStore) FindUsersByRole(ctx context.Context, role models.Role, siteID string) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.User{}
	for _, u := range m.users {
		if u.Role != role || !u.IsActive {
			continue
		}
		if siteID != "" && u.SiteID != siteID {
			continue
		}
		u.PushTokens = append([]string(nil), u.PushTokens...)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// FindUsers returns every user matching filter, ordered by username.
func (m *MemoryStore) FindUsers(ctx context.Context, filter UserFilter) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.User{}
	for _, u := range m.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.SiteID != "" && u.SiteID != filter.SiteID {
			continue
		}
		u.PushTokens = append([]string(nil), u.PushTokens...)
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

// UpdateUser replaces a stored user.
func (m *MemoryStore) UpdateUser(ctx context.Context, id string, user models.User) error {
	objectID, err := parseID(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[objectID]; !ok {
		return ErrNotFound
	}
	user.ID = objectID
	user.UpdatedAt = time.Now()
	m.users[objectID] = user
	return nil
}

// UpdateLastLogin stamps the user's last login.
func (m *MemoryStore) UpdateLastLogin(ctx context.Context, id string) error {
	objectID, err := parseID(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[objectID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	u.LastLogin = &now
	u.UpdatedAt = now
	m.users[objectID] = u
	return nil
}

// AddPushToken adds token to the user's device tokens once.
func (m *MemoryStore) AddPushToken(ctx context.Context, id string, token string) error {
	objectID, err := parseID(id)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[objectID]
	if !ok {
		return ErrNotFound
	}
	for _, existing := range u.PushTokens {
		if existing == token {
			return nil
		}
	}
	u.PushTokens = append(append([]string(nil), u.PushTokens...), token)
	u.UpdatedAt = time.Now()
	m.users[objectID] = u
	return nil
}
