// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"hash/fnv"
	"sync"
)

// KeyedMutex serializes work per key using a fixed set of striped mutexes.
// Different keys may share a stripe; the same key always maps to the same one.
type KeyedMutex struct {
	stripes []sync.Mutex
}

// NewKeyedMutex creates a KeyedMutex with n stripes
func NewKeyedMutex(n int) *KeyedMutex {
	if n <= 0 {
		n = DefaultConfig().LockStripes
	}
	return &KeyedMutex{stripes: make([]sync.Mutex, n)}
}

// Lock locks the stripe for key and returns the unlock function
func (k *KeyedMutex) Lock(key string) func() {
	mu := &k.stripes[k.index(key)]
	mu.Lock()
	return mu.Unlock
}

// Stripes returns the number of stripes
func (k *KeyedMutex) Stripes() int {
	return len(k.stripes)
}

func (k *KeyedMutex) index(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(k.stripes)))
}
