package sipfax

import (
	"fmt"
	"sync"
)

// portPool выделяет четные RTP порты из диапазона.
// Нечетный порт после каждого выделенного остается под RTCP.
type portPool struct {
	min, max int
	used     map[int]bool
	next     int
	mutex    sync.Mutex
}

func newPortPool(min, max int) (*portPool, error) {
	if min <= 0 || max <= 0 || min >= max {
		return nil, fmt.Errorf("некорректный диапазон портов: %d-%d", min, max)
	}
	if min%2 != 0 {
		min++
	}
	return &portPool{min: min, max: max, used: make(map[int]bool), next: min}, nil
}

// allocate выделяет свободный порт
func (p *portPool) allocate() (int, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	start := p.next
	for {
		port := p.next
		p.advance()
		if !p.used[port] {
			p.used[port] = true
			return port, nil
		}
		if p.next == start {
			return 0, fmt.Errorf("все порты в диапазоне %d-%d заняты", p.min, p.max)
		}
	}
}

func (p *portPool) advance() {
	p.next += 2
	if p.next > p.max {
		p.next = p.min
	}
}

// release возвращает порт в пул
func (p *portPool) release(port int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.used, port)
}

// inUse количество выделенных портов
func (p *portPool) inUse() int {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return len(p.used)
}
