package syncer

import "sync"

// observers is a registry of error callbacks in registration order.
type observers struct {
	mu   sync.Mutex
	next int
	fns  []observer
}

type observer struct {
	id int
	fn func(error)
}

func (o *observers) add(fn func(error)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	id := o.next
	o.fns = append(o.fns, observer{id: id, fn: fn})
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		for i, ob := range o.fns {
			if ob.id == id {
				o.fns = append(o.fns[:i:i], o.fns[i+1:]...)
				return
			}
		}
	}
}

func (o *observers) notify(err error) {
	o.mu.Lock()
	fns := append([]observer(nil), o.fns...)
	o.mu.Unlock()
	for _, ob := range fns {
		ob.fn(err)
	}
}
