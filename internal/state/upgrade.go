package state

import (
	"ExchangeLedger/internal/ledger"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Version packs a semantic version as major*1_000_000 + minor*1_000 + patch.
func Version(major, minor, patch uint64) uint64 {
	return major*1_000_000 + minor*1_000 + patch
}

// FormatVersion renders a packed version.
func FormatVersion(v uint64) string {
	return fmt.Sprintf("%d.%d.%d", v/1_000_000, v/1_000%1_000, v%1_000)
}

// Implementation is a named ledger behavior that can become active through
// an upgrade. Migrate runs inside the upgrade's write transaction and must be
// deterministic: replay runs it again with the same init data.
type Implementation interface {
	Name() string
	Version() uint64
	// PreviousVersion is the lowest version this implementation migrates from.
	PreviousVersion() uint64
	StorageLayout() string
	Migrate(txn *Txn, initData []byte) error
}

// MigrationFunc transforms state during an upgrade.
type MigrationFunc func(txn *Txn, initData []byte) error

type implementation struct {
	name     string
	version  uint64
	previous uint64
	layout   string
	migrate  MigrationFunc
}

// NewImplementation declares an implementation on the current storage layout.
// A nil migrate accepts only empty init data.
func NewImplementation(name string, version, previous uint64, migrate MigrationFunc) Implementation {
	return &implementation{
		name:     name,
		version:  version,
		previous: previous,
		layout:   LayoutID,
		migrate:  migrate,
	}
}

func (i *implementation) Name() string            { return i.name }
func (i *implementation) Version() uint64         { return i.version }
func (i *implementation) PreviousVersion() uint64 { return i.previous }
func (i *implementation) StorageLayout() string   { return i.layout }

func (i *implementation) Migrate(txn *Txn, initData []byte) error {
	if i.migrate == nil {
		if len(initData) != 0 {
			return fmt.Errorf("%s takes no init data", i.name)
		}
		return nil
	}
	return i.migrate(txn, initData)
}

// Baseline is the implementation a fresh ledger is initialized with.
var Baseline = NewImplementation("exchange", Version(1, 0, 0), 0, nil)

// Released lists the implementations this build ships beyond Baseline, in
// release order. An owner can only upgrade to an entry listed here. It is
// empty until the first release after 1.0.0.
var Released []Implementation

// DefaultRegistry returns a registry of Baseline and every Released
// implementation.
func DefaultRegistry() *Registry {
	return NewRegistry(append([]Implementation{Baseline}, Released...)...)
}

// CheckVersion verifies an upgrade from current to impl is permitted.
func CheckVersion(current uint64, impl Implementation) error {
	if impl.StorageLayout() != LayoutID {
		return fmt.Errorf("%w: %s declares %q, ledger is %q",
			ledger.ErrIncompatibleLayout, impl.Name(), impl.StorageLayout(), LayoutID)
	}
	if current < impl.PreviousVersion() {
		return fmt.Errorf("%w: %s requires >= %s, ledger is %s", ledger.ErrVersionMismatch,
			impl.Name(), FormatVersion(impl.PreviousVersion()), FormatVersion(current))
	}
	if impl.Version() <= current {
		return fmt.Errorf("%w: ledger is already at %s", ledger.ErrVersionMismatch, FormatVersion(current))
	}
	return nil
}

// Registry holds the implementations an owner may upgrade to.
type Registry struct {
	mu    sync.RWMutex
	impls map[string]Implementation
}

func NewRegistry(impls ...Implementation) *Registry {
	r := &Registry{impls: make(map[string]Implementation)}
	for _, impl := range impls {
		r.impls[impl.Name()] = impl
	}
	return r
}

// Register adds impl. Names are unique.
func (r *Registry) Register(impl Implementation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.impls[impl.Name()]; ok {
		return fmt.Errorf("implementation %s already registered", impl.Name())
	}
	r.impls[impl.Name()] = impl
	return nil
}

// Lookup returns the implementation registered under name.
func (r *Registry) Lookup(name string) (Implementation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ledger.ErrUnknownImplementation, name)
	}
	return impl, nil
}

// Names lists registered implementations.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.impls))
	for name := range r.impls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Upgrade activates impl under owner authority, running its migration.
func (t *Txn) Upgrade(caller common.Address, impl Implementation, initData []byte) error {
	if err := t.RequireOwner(caller); err != nil {
		return err
	}
	return t.ApplyUpgrade(impl, initData)
}

// ApplyUpgrade activates impl without an authority check (used by replay).
func (t *Txn) ApplyUpgrade(impl Implementation, initData []byte) error {
	if err := CheckVersion(t.Version, impl); err != nil {
		return err
	}
	if err := impl.Migrate(t, initData); err != nil {
		return fmt.Errorf("migrate to %s: %w", impl.Name(), err)
	}
	t.Version = impl.Version()
	t.Implementation = impl.Name()
	return nil
}
