// Package cache holds proof records looked up by id. Records never change
// after they are written, so entries only expire; nothing invalidates them.
package cache

import (
	"context"
	"time"

	"evidencia/internal/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const backendMemory = "memory"

type Memory struct {
	lru *expirable.LRU[string, domain.ProofRecord]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	return &Memory{lru: expirable.NewLRU[string, domain.ProofRecord](size, nil, ttl)}
}

func (m *Memory) Get(_ context.Context, id string) (*domain.ProofRecord, bool, error) {
	if m == nil {
		return nil, false, nil
	}
	record, ok := m.lru.Get(id)
	if !ok {
		missesTotal.WithLabelValues(backendMemory).Inc()
		return nil, false, nil
	}
	hitsTotal.WithLabelValues(backendMemory).Inc()
	return &record, true, nil
}

func (m *Memory) Put(_ context.Context, record domain.ProofRecord) error {
	if m == nil || record.ID == "" {
		return nil
	}
	m.lru.Add(record.ID, record)
	return nil
}

func (m *Memory) Len() int {
	return m.lru.Len()
}
