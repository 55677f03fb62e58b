package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenStorage keeps the nonce handed out when a verification session is
// started. Every subsequent call for that session must present the nonce.
// Implementations must be safe for concurrent use.
type TokenStorage interface {
	// StoreToken stores the nonce for the given session id. Storing over an
	// existing session id is an update, not an error.
	StoreToken(sessionId string, nonce string) error

	// RetrieveToken returns the nonce for the given session id and an error
	// whenever it fails to do so.
	RetrieveToken(sessionId string) (string, error)

	// RemoveToken removes the nonce. The value not being there is also an
	// error.
	RemoveToken(sessionId string) error
}

// Session tokens expire on their own; a verification flow that has been
// idle this long is dead.
const tokenTTL time.Duration = 24 * time.Hour

type InMemoryTokenStorage struct {
	TokenMap map[string]string
	mutex    sync.Mutex
}

func NewInMemoryTokenStorage() *InMemoryTokenStorage {
	return &InMemoryTokenStorage{
		TokenMap: make(map[string]string),
	}
}

type RedisTokenStorage struct {
	client    *redis.Client
	namespace string
}

func NewRedisTokenStorage(client *redis.Client, namespace string) *RedisTokenStorage {
	return &RedisTokenStorage{client: client, namespace: namespace}
}

// ------------------------------------------------------------------------------

func createKey(namespace, sessionId string) string {
	return fmt.Sprintf("%s:token:%s", namespace, sessionId)
}

func (s *RedisTokenStorage) StoreToken(sessionId string, nonce string) error {
	ctx := context.Background()
	return s.client.Set(ctx, createKey(s.namespace, sessionId), nonce, tokenTTL).Err()
}

func (s *RedisTokenStorage) RetrieveToken(sessionId string) (string, error) {
	ctx := context.Background()
	return s.client.Get(ctx, createKey(s.namespace, sessionId)).Result()
}

func (s *RedisTokenStorage) RemoveToken(sessionId string) error {
	ctx := context.Background()
	return s.client.Del(ctx, createKey(s.namespace, sessionId)).Err()
}

// ------------------------------------------------------------------------------

func (s *InMemoryTokenStorage) StoreToken(sessionId, token string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.TokenMap[sessionId] = token
	return nil
}

func (s *InMemoryTokenStorage) RetrieveToken(sessionId string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if token, ok := s.TokenMap[sessionId]; ok {
		return token, nil
	} else {
		return "", fmt.Errorf("failed to find token for %s", sessionId)
	}
}

func (s *InMemoryTokenStorage) RemoveToken(sessionId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.TokenMap[sessionId]; ok {
		delete(s.TokenMap, sessionId)
		return nil
	} else {
		return fmt.Errorf("failed to remove token for %s, because it wasn't there", sessionId)
	}
}
