package service

import "sync"

// allLines помечает операцию над всей корзиной.
const allLines = "*"

// ownerLock сериализует чтение-изменение-запись снимка одного владельца.
type ownerLock struct {
	sync.Mutex

	// поля ниже защищены locker.mu
	inflight map[string]struct{}
	refs     int
}

// locker выдаёт блокировки владельцев и ведёт набор строк с незавершённым вызовом API.
type locker struct {
	mu     sync.Mutex
	owners map[string]*ownerLock
}

func newLocker() *locker {
	return &locker{owners: make(map[string]*ownerLock)}
}

func (l *locker) acquire(owner string) *ownerLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	ol, ok := l.owners[owner]
	if !ok {
		ol = &ownerLock{inflight: make(map[string]struct{})}
		l.owners[owner] = ol
	}
	ol.refs++
	return ol
}

func (l *locker) release(owner string, ol *ownerLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ol.refs--
	if ol.refs == 0 && len(ol.inflight) == 0 {
		delete(l.owners, owner)
	}
}

// begin отмечает строку как занятую. allLines требует, чтобы не было ни одной занятой строки.
func (l *locker) begin(ol *ownerLock, lineID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := ol.inflight[allLines]; busy {
		return false
	}
	if lineID == allLines && len(ol.inflight) > 0 {
		return false
	}
	if _, busy := ol.inflight[lineID]; busy {
		return false
	}

	ol.inflight[lineID] = struct{}{}
	return true
}

func (l *locker) end(ol *ownerLock, lineID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(ol.inflight, lineID)
}
