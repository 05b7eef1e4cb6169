// Package contacts manages a YAML-backed address book mapping a human-
// readable name to an identity fingerprint.
package contacts

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rshare/rshare/identity"
	"github.com/rshare/rshare/rerr"
)

// Contact is one address book entry.
type Contact struct {
	Name        string `yaml:"name"`
	Fingerprint string `yaml:"fingerprint"`
	Note        string `yaml:"note,omitempty"`
}

// Store is an in-memory address book backed by a YAML file on disk.
type Store struct {
	path     string
	contacts []Contact
}

type fileFormat struct {
	Contacts []Contact `yaml:"contacts"`
}

// Load reads the address book from path. A missing file is treated as an
// empty, newly created store.
func Load(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, rerr.WrapFileError(err, "read contacts file %s", path)
	}

	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, rerr.WrapConfigError(err, "parse contacts file %s", path)
	}
	s.contacts = doc.Contacts
	return s, nil
}

// Save writes the address book back to its backing file.
func (s *Store) Save() error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return rerr.WrapFileError(err, "create contacts directory")
		}
	}

	data, err := yaml.Marshal(fileFormat{Contacts: s.contacts})
	if err != nil {
		return rerr.WrapConfigError(err, "marshal contacts")
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return rerr.WrapFileError(err, "write contacts file %s", s.path)
	}
	return nil
}

// List returns every contact, in insertion order.
func (s *Store) List() []Contact {
	out := make([]Contact, len(s.contacts))
	copy(out, s.contacts)
	return out
}

// Find looks up a contact by name.
func (s *Store) Find(name string) (Contact, error) {
	for _, c := range s.contacts {
		if c.Name == name {
			return c, nil
		}
	}
	return Contact{}, rerr.InvalidInput("contact %q not found", name)
}

// Add inserts a new contact, rejecting a duplicate name or a fingerprint
// that doesn't parse as a valid Ed25519 public key.
func (s *Store) Add(name, fingerprint, note string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return rerr.InvalidInput("contact name must not be empty")
	}
	if _, err := identity.ParseFingerprint(fingerprint); err != nil {
		return err
	}
	if _, err := s.Find(name); err == nil {
		return rerr.InvalidInput("contact %q already exists", name)
	}

	s.contacts = append(s.contacts, Contact{Name: name, Fingerprint: fingerprint, Note: note})
	return nil
}

// Remove deletes the contact named name.
func (s *Store) Remove(name string) error {
	for i, c := range s.contacts {
		if c.Name == name {
			s.contacts = append(s.contacts[:i], s.contacts[i+1:]...)
			return nil
		}
	}
	return rerr.InvalidInput("contact %q not found", name)
}
