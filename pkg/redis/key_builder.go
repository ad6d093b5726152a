package redis

import "fmt"

// Key patterns, relative to the environment prefix
const (
	KeyRoom      = "room:%s"          // serialized room record
	KeyRoomIndex = "rooms:live"       // set of live room codes
	KeyPresence  = "room:%s:presence" // hash participant id -> last seen (unix ms)
	KeyRoomLock  = "room:%s:lock"     // per-room mutation lock
)

// KeyBuilder provides environment-aware Redis key building functionality
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder creates a new key builder with environment-based prefix
func NewKeyBuilder(environment string) *KeyBuilder {
	prefix := "prod"
	switch environment {
	case "development", "staging":
		prefix = "staging"
	case "test", "local":
		prefix = environment
	}

	return &KeyBuilder{
		prefix: prefix,
	}
}

// BuildKey constructs a Redis key with the environment prefix
func (kb *KeyBuilder) BuildKey(key string) string {
	return fmt.Sprintf("%s:%s", kb.prefix, key)
}

// GetPrefix returns the current environment prefix
func (kb *KeyBuilder) GetPrefix() string {
	return kb.prefix
}

func (kb *KeyBuilder) KeyRoom(code string) string {
	return kb.BuildKey(fmt.Sprintf(KeyRoom, code))
}

func (kb *KeyBuilder) KeyRoomIndex() string {
	return kb.BuildKey(KeyRoomIndex)
}

func (kb *KeyBuilder) KeyPresence(code string) string {
	return kb.BuildKey(fmt.Sprintf(KeyPresence, code))
}

func (kb *KeyBuilder) KeyRoomLock(code string) string {
	return kb.BuildKey(fmt.Sprintf(KeyRoomLock, code))
}
