package ledger

import "sync"

// KeyedMutex 以拍賣ID為粒度的互斥鎖
// 同一場拍賣上的出價與結算會被完全序列化，不同拍賣之間互不阻塞；
// 條目在沒有持有者與等待者時會被回收，map不會隨拍賣數量無限成長
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[uint64]*keyedMutexEntry
}

type keyedMutexEntry struct {
	sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{
		entries: make(map[uint64]*keyedMutexEntry),
	}
}

// Lock 鎖住指定key，必要時建立新條目
func (k *KeyedMutex) Lock(key uint64) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedMutexEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.Lock()
}

// Unlock 釋放指定key的鎖，最後一個持有者離開時回收條目
func (k *KeyedMutex) Unlock(key uint64) {
	k.mu.Lock()
	entry, ok := k.entries[key]
	if !ok {
		k.mu.Unlock()
		panic("ledger: unlock of unlocked KeyedMutex key")
	}
	entry.refs--
	if entry.refs == 0 {
		delete(k.entries, key)
	}
	k.mu.Unlock()

	entry.Unlock()
}
