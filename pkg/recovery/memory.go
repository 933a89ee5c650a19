package recovery

import (
	"context"
	"sync"
)

// MemoryRepository keeps tokens in memory.
type MemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]Token
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]Token)}
}

func (r *MemoryRepository) Replace(_ context.Context, tok Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, t := range r.tokens {
		if t.Contact == tok.Contact && !t.Used {
			t.Used = true
			r.tokens[k] = t
		}
	}
	tok.Used = false
	r.tokens[tok.Token] = tok
	return nil
}

func (r *MemoryRepository) Find(_ context.Context, token string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[token]
	if !ok {
		return Token{}, ErrNotFound
	}
	return tok, nil
}

func (r *MemoryRepository) MarkUsed(_ context.Context, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if tok, ok := r.tokens[token]; ok {
		tok.Used = true
		r.tokens[token] = tok
	}
	return nil
}

func (r *MemoryRepository) Claim(_ context.Context, token string) (Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok := r.tokens[token]
	if !ok || tok.Used {
		return Token{}, ErrNotFound
	}
	tok.Used = true
	r.tokens[token] = tok
	return tok, nil
}

// Unused returns the number of unused tokens stored for contact.
func (r *MemoryRepository) Unused(contact string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tokens {
		if t.Contact == contact && !t.Used {
			n++
		}
	}
	return n
}
