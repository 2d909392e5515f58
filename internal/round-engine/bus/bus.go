// Package bus distribui valores imutáveis para vários assinantes.
// Cada assinante tem um buffer limitado; quando cheio, o valor mais antigo é
// descartado para que um assinante lento nunca segure quem publica.
package bus

import "sync"

type Bus[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	size   int
	last   *T
	closed bool
}

// New cria um Bus com buffer de size valores por assinante (mínimo 1)
func New[T any](size int) *Bus[T] {
	if size < 1 {
		size = 1
	}
	return &Bus[T]{subs: make(map[int]chan T), size: size}
}

// Subscribe registra um assinante. O último valor publicado, se houver, já
// chega no canal. cancel fecha o canal e é idempotente.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, b.size)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	if b.last != nil {
		ch <- *b.last
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Publish entrega v a todos os assinantes sem bloquear
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.last = &v
	for _, ch := range b.subs {
		for {
			select {
			case ch <- v:
			default:
				// cheio: descarta o mais antigo e tenta de novo
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Last retorna o último valor publicado
func (b *Bus[T]) Last() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		var zero T
		return zero, false
	}
	return *b.last, true
}

// Close fecha todos os assinantes; publicações seguintes são ignoradas
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
