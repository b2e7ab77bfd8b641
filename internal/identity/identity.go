// Package identity resolves user ids to display identities for
// completion reports. Authentication and role enforcement live outside
// the core and are not modeled here.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// ErrUserNotFound indicates the directory has no entry for the user.
var ErrUserNotFound = errors.New("user not found")

// Identity is the display identity embedded into completion reports.
type Identity struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role,omitempty"`
}

// Directory resolves user ids to identities.
type Directory interface {
	Identity(userID string) (*Identity, error)
}

// FileDirectory reads identities from a users.json file:
//
//	{"users": [{"user_id": "...", "username": "...", "display_name": "...", "role": "..."}]}
type FileDirectory struct {
	users map[string]*Identity
}

// NewFileDirectory loads the directory from path. A missing file yields
// an empty directory rather than an error, so that progress recording
// never depends on directory provisioning.
func NewFileDirectory(path string) (*FileDirectory, error) {
	d := &FileDirectory{users: make(map[string]*Identity)}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read users file: %w", err)
	}

	var doc struct {
		Users []*Identity `json:"users"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode users file: %w", err)
	}
	for _, u := range doc.Users {
		if u.UserID == "" {
			continue
		}
		d.users[u.UserID] = u
	}
	return d, nil
}

func (d *FileDirectory) Identity(userID string) (*Identity, error) {
	u, ok := d.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return u, nil
}

// Resolve returns the directory identity for userID, or a synthesized
// identity (username = user id) when the directory has no entry.
func Resolve(d Directory, userID string) *Identity {
	if d != nil {
		if id, err := d.Identity(userID); err == nil {
			return id
		}
	}
	return &Identity{UserID: userID, Username: userID, DisplayName: userID}
}
