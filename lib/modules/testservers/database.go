package testservers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/pyrohost/prometheus/lib/docstore"
)

var log = logger.GetLogger("testing")

// DefaultUserLimit is the number of servers a user may own without an override
const DefaultUserLimit = 1

var (
	ErrServerNotFound = errors.New("server not found")
	ErrLimitReached   = errors.New("you have reached your test server limit")
	ErrInvalidLimit   = errors.New("the server limit must be at least 1")
	ErrEmptyName      = errors.New("server name cannot be empty")
	ErrServerExists   = errors.New("a server with that id already exists")
)

// TestServer is a temporary server owned by a user
type TestServer struct {
	ServerID  string    `json:"server_id" yaml:"server_id"`
	UserID    uint64    `json:"user_id" yaml:"user_id"`
	Name      string    `json:"name" yaml:"name"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
	ExpiresAt time.Time `json:"expires_at" yaml:"expires_at"`
}

// NewTestServer creates a server with a random id that expires after lifetime
func NewTestServer(userID uint64, name string, now time.Time, lifetime time.Duration) TestServer {
	return TestServer{
		ServerID:  uuid.NewString(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		ExpiresAt: now.Add(lifetime),
	}
}

// Expired reports whether the server expired at now
func (s TestServer) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Database holds every test server and the per user limits
type Database struct {
	Servers    map[string]TestServer `json:"servers" yaml:"servers"`
	UserLimits map[uint64]int        `json:"user_limits" yaml:"user_limits"`
}

func (d *Database) Init() {
	if d.Servers == nil {
		d.Servers = make(map[string]TestServer)
	}
	if d.UserLimits == nil {
		d.UserLimits = make(map[uint64]int)
	}
}

func (d *Database) Clone() *Database {
	c := &Database{
		Servers:    make(map[string]TestServer, len(d.Servers)),
		UserLimits: make(map[uint64]int, len(d.UserLimits)),
	}
	for k, v := range d.Servers {
		c.Servers[k] = v
	}
	for k, v := range d.UserLimits {
		c.UserLimits[k] = v
	}
	return c
}

func (d *Database) limit(userID uint64) int {
	if l, ok := d.UserLimits[userID]; ok {
		return l
	}
	return DefaultUserLimit
}

func (d *Database) userServers(userID uint64) []TestServer {
	var servers []TestServer
	for _, s := range d.Servers {
		if s.UserID == userID {
			servers = append(servers, s)
		}
	}
	sortServers(servers)
	return servers
}

func sortServers(servers []TestServer) {
	sort.Slice(servers, func(i, j int) bool {
		if !servers[i].CreatedAt.Equal(servers[j].CreatedAt) {
			return servers[i].CreatedAt.Before(servers[j].CreatedAt)
		}
		return servers[i].ServerID < servers[j].ServerID
	})
}

// --------------------------------------------------------------------------
// Handler
// --------------------------------------------------------------------------

// Handler implements the test server operations on top of a store
type Handler struct {
	store *docstore.Store[Database]
}

// NewHandler creates a handler using store
func NewHandler(store *docstore.Store[Database]) *Handler {
	return &Handler{store: store}
}

// Store returns the underlying store
func (h *Handler) Store() *docstore.Store[Database] {
	return h.store
}

// GetUserServer returns the oldest server of the user
func (h *Handler) GetUserServer(userID uint64) (TestServer, bool) {
	servers := h.GetUserServers(userID)
	if len(servers) == 0 {
		return TestServer{}, false
	}
	return servers[0], true
}

// GetUserServers returns the user's servers, oldest first
func (h *Handler) GetUserServers(userID uint64) []TestServer {
	return docstore.Read(h.store, func(d *Database) []TestServer {
		return d.userServers(userID)
	})
}

// GetServer returns a server by id
func (h *Handler) GetServer(serverID string) (TestServer, bool) {
	var ok bool
	server := docstore.Read(h.store, func(d *Database) TestServer {
		var s TestServer
		s, ok = d.Servers[serverID]
		return s
	})
	return server, ok
}

// AddServer stores a new server if its owner is below their limit
func (h *Handler) AddServer(server TestServer) error {
	if strings.TrimSpace(server.Name) == "" {
		return ErrEmptyName
	}
	err := docstore.Update(h.store, func(d *Database) error {
		if _, exists := d.Servers[server.ServerID]; exists {
			return ErrServerExists
		}
		if limit := d.limit(server.UserID); len(d.userServers(server.UserID)) >= limit {
			return fmt.Errorf("%w (%d)", ErrLimitReached, limit)
		}
		d.Servers[server.ServerID] = server
		return nil
	})
	if err == nil {
		log.Infof("added test server %s for user %d, expires %s", server.ServerID, server.UserID, server.ExpiresAt.Format(time.RFC3339))
	}
	return err
}

// RemoveServer deletes a server
func (h *Handler) RemoveServer(serverID string) error {
	return docstore.Update(h.store, func(d *Database) error {
		if _, ok := d.Servers[serverID]; !ok {
			return ErrServerNotFound
		}
		delete(d.Servers, serverID)
		return nil
	})
}

// ExtendServer sets the server to expire duration after now
func (h *Handler) ExtendServer(serverID string, duration time.Duration, now time.Time) (TestServer, error) {
	return docstore.Write(h.store, func(d *Database) (TestServer, error) {
		s, ok := d.Servers[serverID]
		if !ok {
			return TestServer{}, ErrServerNotFound
		}
		s.ExpiresAt = now.Add(duration)
		d.Servers[serverID] = s
		return s, nil
	})
}

// GetUserLimit returns how many servers the user may own
func (h *Handler) GetUserLimit(userID uint64) int {
	return docstore.Read(h.store, func(d *Database) int {
		return d.limit(userID)
	})
}

// SetUserLimit overrides the user's limit. Setting the default removes the
// override.
func (h *Handler) SetUserLimit(userID uint64, limit int) error {
	if limit < 1 {
		return ErrInvalidLimit
	}
	return docstore.Update(h.store, func(d *Database) error {
		if limit == DefaultUserLimit {
			delete(d.UserLimits, userID)
		} else {
			d.UserLimits[userID] = limit
		}
		return nil
	})
}

// Expired returns the servers that expired at now, oldest first
func (h *Handler) Expired(now time.Time) []TestServer {
	return docstore.Read(h.store, func(d *Database) []TestServer {
		var expired []TestServer
		for _, s := range d.Servers {
			if s.Expired(now) {
				expired = append(expired, s)
			}
		}
		sortServers(expired)
		return expired
	})
}

// RemoveExpired deletes every server that expired at now and returns them
func (h *Handler) RemoveExpired(now time.Time) ([]TestServer, error) {
	if len(h.Expired(now)) == 0 {
		return nil, nil
	}
	return docstore.Write(h.store, func(d *Database) ([]TestServer, error) {
		var removed []TestServer
		for id, s := range d.Servers {
			if s.Expired(now) {
				removed = append(removed, s)
				delete(d.Servers, id)
			}
		}
		sortServers(removed)
		return removed, nil
	})
}
