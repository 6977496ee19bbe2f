// Package store persists account credentials and payment profiles.
//
// The engine treats the store as an external collaborator: it reads a
// snapshot of accounts at run start and pushes back only order-count
// deltas when a purchase completes.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrProfileNotFound = errors.New("payment profile not found")
)

// Account is one stored credential. ID doubles as the login username.
type Account struct {
	ID         string `yaml:"id"`
	Secret     string `yaml:"secret"`
	IsDefault  bool   `yaml:"is_default"`
	OrderCount int    `yaml:"order_count"`
}

// Delivery holds the shipping fields typed into the checkout form.
// FirstName, LastName, Address1, City, PostalCode and Country are
// required; the rest are optional and skipped when blank.
type Delivery struct {
	FirstName  string `yaml:"first_name"`
	LastName   string `yaml:"last_name"`
	Company    string `yaml:"company,omitempty"`
	Address1   string `yaml:"address1"`
	Address2   string `yaml:"address2,omitempty"`
	City       string `yaml:"city"`
	Province   string `yaml:"province,omitempty"`
	PostalCode string `yaml:"postal_code"`
	Phone      string `yaml:"phone,omitempty"`
	Country    string `yaml:"country"`
}

// Card holds the payment card typed into the checkout form.
type Card struct {
	Number   string `yaml:"number"`
	Holder   string `yaml:"holder"`
	ExpMonth string `yaml:"exp_month"`
	ExpYear  string `yaml:"exp_year"`
	CVV      string `yaml:"cvv"`
}

// PaymentProfile is read-only to the engine; it is looked up by account
// id before a purchase flow starts.
type PaymentProfile struct {
	OwnerID        string    `yaml:"owner_id"`
	Delivery       Delivery  `yaml:"delivery"`
	UseSameAddress bool      `yaml:"use_same_address"`
	Billing        *Delivery `yaml:"billing,omitempty"`
	Card           Card      `yaml:"card"`
}

// MissingDeliveryFields names the required delivery fields that are
// blank. A non-empty result means the profile cannot drive a checkout.
func (p *PaymentProfile) MissingDeliveryFields() []string {
	var missing []string
	d := p.Delivery
	for _, f := range []struct {
		name  string
		value string
	}{
		{"first_name", d.FirstName},
		{"last_name", d.LastName},
		{"address1", d.Address1},
		{"city", d.City},
		{"postal_code", d.PostalCode},
		{"country", d.Country},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// AccountPatch is the only mutation the engine applies back to the
// store: an order-count delta for a completed purchase.
type AccountPatch struct {
	OrderCountDelta int
}

// Store is the credential/payment collaborator consumed by the
// orchestrator.
type Store interface {
	Accounts() ([]Account, error)
	UpdateAccount(id string, patch AccountPatch) error
	PaymentProfile(accountID string) (*PaymentProfile, error)
}

// FileStore keeps accounts and payment profiles in two YAML files under
// a data directory. Concurrent access is serialized; the orchestrator
// is the single writer during a run but the CLI may read concurrently.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) accountsPath() string { return filepath.Join(s.dir, "accounts.yaml") }
func (s *FileStore) profilesPath() string { return filepath.Join(s.dir, "payment-profiles.yaml") }

func (s *FileStore) Accounts() ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readAccounts()
}

func (s *FileStore) UpdateAccount(id string, patch AccountPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.readAccounts()
	if err != nil {
		return err
	}

	for i := range accounts {
		if accounts[i].ID == id {
			accounts[i].OrderCount += patch.OrderCountDelta
			return s.writeAccounts(accounts)
		}
	}
	return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

// SaveAccount inserts or replaces an account, preserving its order
// count on replace.
func (s *FileStore) SaveAccount(account Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.readAccounts()
	if err != nil {
		return err
	}

	for i := range accounts {
		if accounts[i].ID == account.ID {
			account.OrderCount = accounts[i].OrderCount
			accounts[i] = account
			return s.writeAccounts(accounts)
		}
	}
	return s.writeAccounts(append(accounts, account))
}

func (s *FileStore) DeleteAccount(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accounts, err := s.readAccounts()
	if err != nil {
		return err
	}

	for i := range accounts {
		if accounts[i].ID == id {
			return s.writeAccounts(append(accounts[:i], accounts[i+1:]...))
		}
	}
	return fmt.Errorf("%w: %s", ErrAccountNotFound, id)
}

func (s *FileStore) PaymentProfile(accountID string) (*PaymentProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.readProfiles()
	if err != nil {
		return nil, err
	}

	for i := range profiles {
		if profiles[i].OwnerID == accountID {
			p := profiles[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, accountID)
}

func (s *FileStore) SavePaymentProfile(profile PaymentProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := s.readProfiles()
	if err != nil {
		return err
	}

	for i := range profiles {
		if profiles[i].OwnerID == profile.OwnerID {
			profiles[i] = profile
			return s.writeProfiles(profiles)
		}
	}
	return s.writeProfiles(append(profiles, profile))
}

func (s *FileStore) readAccounts() ([]Account, error) {
	var accounts []Account
	if err := readYAML(s.accountsPath(), &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

func (s *FileStore) writeAccounts(accounts []Account) error {
	return writeYAML(s.accountsPath(), accounts)
}

func (s *FileStore) readProfiles() ([]PaymentProfile, error) {
	var profiles []PaymentProfile
	if err := readYAML(s.profilesPath(), &profiles); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (s *FileStore) writeProfiles(profiles []PaymentProfile) error {
	return writeYAML(s.profilesPath(), profiles)
}

func readYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, out)
}

func writeYAML(path string, in any) error {
	data, err := yaml.Marshal(in)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
