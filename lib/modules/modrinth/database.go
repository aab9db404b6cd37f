// Package modrinth stores the links between discord users and their
// Modrinth accounts.
package modrinth

import (
	"errors"
	"sort"
	"strings"

	"github.com/lni/dragonboat/v4/logger"
	"github.com/pyrohost/prometheus/lib/docstore"
)

var log = logger.GetLogger("modrinth")

var (
	ErrEmptyModrinthID = errors.New("modrinth id cannot be empty")
	ErrNotLinked       = errors.New("no modrinth account is linked")
	ErrAlreadyLinked   = errors.New("that modrinth account is linked to another user")
)

// Database maps discord user ids to modrinth user ids
type Database struct {
	LinkedAccounts map[uint64]string `json:"linked_accounts" yaml:"linked_accounts"`
}

func (d *Database) Init() {
	if d.LinkedAccounts == nil {
		d.LinkedAccounts = make(map[uint64]string)
	}
}

func (d *Database) Clone() *Database {
	c := &Database{LinkedAccounts: make(map[uint64]string, len(d.LinkedAccounts))}
	for k, v := range d.LinkedAccounts {
		c.LinkedAccounts[k] = v
	}
	return c
}

// Link is one linked account
type Link struct {
	DiscordID  uint64 `json:"discord_id"`
	ModrinthID string `json:"modrinth_id"`
}

// Handler implements the account linking operations on top of a store
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

// LinkAccount links the discord user to a modrinth account, replacing an
// earlier link of that user. A modrinth account can only be linked once.
func (h *Handler) LinkAccount(discordID uint64, modrinthID string) error {
	modrinthID = strings.TrimSpace(modrinthID)
	if modrinthID == "" {
		return ErrEmptyModrinthID
	}
	err := docstore.Update(h.store, func(d *Database) error {
		for user, id := range d.LinkedAccounts {
			if user != discordID && strings.EqualFold(id, modrinthID) {
				return ErrAlreadyLinked
			}
		}
		d.LinkedAccounts[discordID] = modrinthID
		return nil
	})
	if err == nil {
		log.Infof("linked discord user %d to modrinth %s", discordID, modrinthID)
	}
	return err
}

// UnlinkAccount removes the user's link
func (h *Handler) UnlinkAccount(discordID uint64) error {
	return docstore.Update(h.store, func(d *Database) error {
		if _, ok := d.LinkedAccounts[discordID]; !ok {
			return ErrNotLinked
		}
		delete(d.LinkedAccounts, discordID)
		return nil
	})
}

// GetModrinthID returns the modrinth account linked to the user
func (h *Handler) GetModrinthID(discordID uint64) (string, bool) {
	var ok bool
	id := docstore.Read(h.store, func(d *Database) string {
		var id string
		id, ok = d.LinkedAccounts[discordID]
		return id
	})
	return id, ok
}

// LinkedAccounts returns every link ordered by discord id
func (h *Handler) LinkedAccounts() []Link {
	return docstore.Read(h.store, func(d *Database) []Link {
		links := make([]Link, 0, len(d.LinkedAccounts))
		for user, id := range d.LinkedAccounts {
			links = append(links, Link{DiscordID: user, ModrinthID: id})
		}
		sort.Slice(links, func(i, j int) bool { return links[i].DiscordID < links[j].DiscordID })
		return links
	})
}
