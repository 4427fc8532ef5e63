package identity

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet resolves the verification key for an identity-provider assertion
// by key id, allowing providers to rotate signing keys without downtime.
type KeySet interface {
	KeyFunc() jwt.Keyfunc
}

// StaticKeySet holds one or more known provider public keys, keyed by kid.
// Used in tests and for providers that publish a small, slowly-rotating
// key set out of band.
type StaticKeySet struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewStaticKeySet builds a StaticKeySet from a kid->public key map.
func NewStaticKeySet(keys map[string]ed25519.PublicKey) *StaticKeySet {
	ks := &StaticKeySet{keys: make(map[string]ed25519.PublicKey, len(keys))}
	for k, v := range keys {
		ks.keys[k] = v
	}
	return ks
}

// AddKey registers an additional verification key, e.g. on provider-side
// rotation.
func (ks *StaticKeySet) AddKey(kid string, key ed25519.PublicKey) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys[kid] = key
}

func (ks *StaticKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("identity: missing kid in assertion header")
		}
		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, ok := ks.keys[kid]
		if !ok {
			return nil, fmt.Errorf("identity: unknown signing key: %s", kid)
		}
		return key, nil
	}
}
