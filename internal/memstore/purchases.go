package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crypify/internal/domain/purchase"
)

// Purchases keeps purchases and stock in process memory.
type Purchases struct {
	mu        sync.Mutex
	stock     map[string]int
	purchases map[string]purchase.Purchase
	paidTx    map[string]string
}

// NewPurchases seeds stock per SKU.
func NewPurchases(stock map[string]int) *Purchases {
	s := &Purchases{
		stock:     make(map[string]int, len(stock)),
		purchases: make(map[string]purchase.Purchase),
		paidTx:    make(map[string]string),
	}
	for sku, n := range stock {
		s.stock[sku] = n
	}
	return s
}

// ReserveStock implements purchase.Store.
func (s *Purchases) ReserveStock(_ context.Context, sku string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	available, ok := s.stock[sku]
	if !ok {
		return purchase.ErrInvalidSKU
	}
	if qty > available {
		return purchase.ErrInsufficientStock
	}
	s.stock[sku] = available - qty
	return nil
}

// ReleaseStock implements purchase.Store.
func (s *Purchases) ReleaseStock(_ context.Context, sku string, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stock[sku] += qty
	return nil
}

// Insert implements purchase.Store.
func (s *Purchases) Insert(_ context.Context, p purchase.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.purchases[p.ID]; ok {
		return fmt.Errorf("purchase %s already exists", p.ID)
	}
	s.purchases[p.ID] = p
	return nil
}

// Get implements purchase.Store.
func (s *Purchases) Get(_ context.Context, id string) (purchase.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok {
		return purchase.Purchase{}, purchase.ErrNotFound
	}
	return p, nil
}

// MarkPaid implements purchase.Store.
func (s *Purchases) MarkPaid(_ context.Context, id, paymentTx string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok {
		return purchase.ErrNotFound
	}
	if p.Paid {
		return purchase.ErrAlreadyPaid
	}
	if paymentTx != "" {
		if owner, used := s.paidTx[paymentTx]; used && owner != id {
			return purchase.ErrPaymentAlreadyUsed
		}
		s.paidTx[paymentTx] = id
	}
	p.Paid = true
	p.PaymentTx = paymentTx
	p.PaidAt = at
	s.purchases[id] = p
	return nil
}

// SetRewardTx implements purchase.Store.
func (s *Purchases) SetRewardTx(_ context.Context, id, txID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.purchases[id]
	if !ok {
		return purchase.ErrNotFound
	}
	p.RewardTx = txID
	s.purchases[id] = p
	return nil
}

// Stock reports the remaining stock for a SKU.
func (s *Purchases) Stock(sku string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stock[sku]
}
