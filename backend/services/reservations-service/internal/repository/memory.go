package repository

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"batteryswap/backend/services/reservations-service/internal/models"
)

// MemoryStore keeps everything in process memory. Transactions hold a single store-wide
// mutex and roll back by restoring a copy of the mutable tables.
type MemoryStore struct {
	mu           sync.Mutex
	stations     map[uuid.UUID]models.Station
	vehicles     map[uuid.UUID]models.Vehicle
	batteries    map[uuid.UUID]models.Battery
	reservations map[uuid.UUID]models.Reservation
	wallets      map[uuid.UUID]models.Wallet
	ledger       []models.WalletTransaction
	now          func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stations:     make(map[uuid.UUID]models.Station),
		vehicles:     make(map[uuid.UUID]models.Vehicle),
		batteries:    make(map[uuid.UUID]models.Battery),
		reservations: make(map[uuid.UUID]models.Reservation),
		wallets:      make(map[uuid.UUID]models.Wallet),
		now:          time.Now,
	}
}

// AddStation registers a station.
func (s *MemoryStore) AddStation(st models.Station) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[st.ID] = st
}

// AddVehicle registers a vehicle.
func (s *MemoryStore) AddVehicle(v models.Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[v.ID] = v
}

// AddBattery registers or replaces a battery.
func (s *MemoryStore) AddBattery(b models.Battery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	s.batteries[b.ID] = b
}

// PutReservation stores a reservation as is, bypassing admission.
func (s *MemoryStore) PutReservation(r models.Reservation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID] = r
}

// SetWalletBalance creates or overwrites a wallet.
func (s *MemoryStore) SetWalletBalance(userID uuid.UUID, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	w, ok := s.wallets[userID]
	if !ok {
		w = models.Wallet{UserID: userID, CreatedAt: now}
	}
	w.Balance = balance
	w.UpdatedAt = now
	s.wallets[userID] = w
}

// WalletTransactions returns the ledger lines of a user, oldest first.
func (s *MemoryStore) WalletTransactions(userID uuid.UUID) []models.WalletTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WalletTransaction
	for _, e := range s.ledger {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	return out
}

// ListBatteries returns every battery at the station.
func (s *MemoryStore) ListBatteries(_ context.Context, stationID uuid.UUID) ([]models.Battery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listBatteries(stationID), nil
}

// ListReservations returns reservations matching q.
func (s *MemoryStore) ListReservations(_ context.Context, q ReservationQuery) ([]models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listReservations(q), nil
}

// GetStation fetches a station by id.
func (s *MemoryStore) GetStation(_ context.Context, id uuid.UUID) (*models.Station, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

// GetVehicle fetches a vehicle owned by ownerID.
func (s *MemoryStore) GetVehicle(_ context.Context, id, ownerID uuid.UUID) (*models.Vehicle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.vehicles[id]
	if !ok || v.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return &v, nil
}

// GetReservation fetches a reservation by id.
func (s *MemoryStore) GetReservation(_ context.Context, id uuid.UUID) (*models.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

// ListUserReservations returns the latest reservations of a user.
func (s *MemoryStore) ListUserReservations(_ context.Context, userID uuid.UUID, limit int) ([]models.Reservation, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reservation
	for _, r := range s.reservations {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetWallet returns the wallet of a user.
func (s *MemoryStore) GetWallet(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

// WithinTx runs fn while holding the store mutex; the lock key is implied by it.
func (s *MemoryStore) WithinTx(ctx context.Context, _ string, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	savedReservations := make(map[uuid.UUID]models.Reservation, len(s.reservations))
	for k, v := range s.reservations {
		savedReservations[k] = v
	}
	savedWallets := make(map[uuid.UUID]models.Wallet, len(s.wallets))
	for k, v := range s.wallets {
		savedWallets[k] = v
	}
	savedLedger := len(s.ledger)

	if err := fn(&memoryTx{store: s}); err != nil {
		s.reservations = savedReservations
		s.wallets = savedWallets
		s.ledger = s.ledger[:savedLedger]
		return err
	}
	return nil
}

func (s *MemoryStore) listBatteries(stationID uuid.UUID) []models.Battery {
	var out []models.Battery
	for _, b := range s.batteries {
		if b.StationID == stationID {
			out = append(out, b)
		}
	}
	return out
}

func (s *MemoryStore) listReservations(q ReservationQuery) []models.Reservation {
	var out []models.Reservation
	for _, r := range s.reservations {
		if q.matches(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

// memoryTx runs with MemoryStore.mu already held.
type memoryTx struct {
	store *MemoryStore
}

func (t *memoryTx) ListBatteries(_ context.Context, stationID uuid.UUID) ([]models.Battery, error) {
	return t.store.listBatteries(stationID), nil
}

func (t *memoryTx) ListReservations(_ context.Context, q ReservationQuery) ([]models.Reservation, error) {
	return t.store.listReservations(q), nil
}

func (t *memoryTx) CodeExists(_ context.Context, code string) (bool, error) {
	for _, r := range t.store.reservations {
		if r.Code == code {
			return true, nil
		}
	}
	return false, nil
}

func (t *memoryTx) InsertReservation(ctx context.Context, r *models.Reservation) error {
	if _, ok := t.store.reservations[r.ID]; ok {
		return fmt.Errorf("insert reservation: id %s already exists", r.ID)
	}
	if exists, _ := t.CodeExists(ctx, r.Code); exists {
		return ErrDuplicateCode
	}
	t.store.reservations[r.ID] = *r
	return nil
}

func (t *memoryTx) LockReservation(_ context.Context, id uuid.UUID) (*models.Reservation, error) {
	r, ok := t.store.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (t *memoryTx) UpdateReservation(_ context.Context, r *models.Reservation) error {
	if _, ok := t.store.reservations[r.ID]; !ok {
		return ErrNotFound
	}
	t.store.reservations[r.ID] = *r
	return nil
}

func (t *memoryTx) EnsureWallet(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, ok := t.store.wallets[userID]
	if !ok {
		now := t.store.now().UTC()
		w = models.Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}
		t.store.wallets[userID] = w
	}
	return &w, nil
}

func (t *memoryTx) DebitWallet(_ context.Context, entry *models.WalletTransaction) (*models.Wallet, error) {
	w, ok := t.store.wallets[entry.UserID]
	if !ok || w.Balance < entry.Amount {
		return nil, ErrInsufficientFunds
	}
	now := t.store.now().UTC()
	w.Balance -= entry.Amount
	w.UpdatedAt = now
	t.store.wallets[entry.UserID] = w

	entry.ID = int64(len(t.store.ledger) + 1)
	entry.BalanceAfter = w.Balance
	entry.CreatedAt = now
	t.store.ledger = append(t.store.ledger, *entry)
	return &w, nil
}

// Seed is the on-disk fixture format accepted by LoadSeedFile.
type Seed struct {
	Stations []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Address  string `yaml:"address"`
		Capacity int    `yaml:"capacity"`
		Status   string `yaml:"status"`
	} `yaml:"stations"`
	Vehicles []struct {
		ID           string `yaml:"id"`
		OwnerID      string `yaml:"ownerId"`
		BatteryModel string `yaml:"batteryModel"`
	} `yaml:"vehicles"`
	Batteries []struct {
		StationID   string `yaml:"stationId"`
		Model       string `yaml:"model"`
		Status      string `yaml:"status"`
		ChargeLevel int    `yaml:"chargeLevel"`
		Count       int    `yaml:"count"`
	} `yaml:"batteries"`
	Wallets []struct {
		UserID  string `yaml:"userId"`
		Balance int64  `yaml:"balance"`
	} `yaml:"wallets"`
}

// LoadSeedFile reads a YAML fixture into the store.
func (s *MemoryStore) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("seed: read file: %w", err)
	}
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("seed: decode yaml: %w", err)
	}
	return s.ApplySeed(seed)
}

// ApplySeed inserts every record of seed.
func (s *MemoryStore) ApplySeed(seed Seed) error {
	for _, st := range seed.Stations {
		id, err := uuid.Parse(st.ID)
		if err != nil {
			return fmt.Errorf("seed: station id %q: %w", st.ID, err)
		}
		status := models.StationStatus(st.Status)
		if status == "" {
			status = models.StationActive
		}
		s.AddStation(models.Station{ID: id, Name: st.Name, Address: st.Address, Capacity: st.Capacity, Status: status})
	}
	for _, v := range seed.Vehicles {
		id, err := uuid.Parse(v.ID)
		if err != nil {
			return fmt.Errorf("seed: vehicle id %q: %w", v.ID, err)
		}
		owner, err := uuid.Parse(v.OwnerID)
		if err != nil {
			return fmt.Errorf("seed: vehicle owner %q: %w", v.OwnerID, err)
		}
		s.AddVehicle(models.Vehicle{ID: id, OwnerID: owner, BatteryModel: v.BatteryModel})
	}
	for _, b := range seed.Batteries {
		stationID, err := uuid.Parse(b.StationID)
		if err != nil {
			return fmt.Errorf("seed: battery station %q: %w", b.StationID, err)
		}
		count := b.Count
		if count <= 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			s.AddBattery(models.Battery{
				StationID:   stationID,
				Model:       b.Model,
				Status:      models.BatteryStatus(b.Status),
				ChargeLevel: b.ChargeLevel,
				UpdatedAt:   s.now().UTC(),
			})
		}
	}
	for _, w := range seed.Wallets {
		userID, err := uuid.Parse(w.UserID)
		if err != nil {
			return fmt.Errorf("seed: wallet user %q: %w", w.UserID, err)
		}
		s.SetWalletBalance(userID, w.Balance)
	}
	return nil
}
