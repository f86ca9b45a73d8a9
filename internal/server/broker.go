package server

import "sync"

// Broker fans out reload notifications to every connected livereload client.
type Broker struct {
	stopCh    chan struct{}
	stopOnce  sync.Once
	publishCh chan interface{}
	subCh     chan chan interface{}
	unsubCh   chan chan interface{}
}

func newBroker() *Broker {
	return &Broker{
		stopCh:    make(chan struct{}),
		publishCh: make(chan interface{}, 1),
		subCh:     make(chan chan interface{}),
		unsubCh:   make(chan chan interface{}),
	}
}

// Start runs the broker until Stop is called.
func (b *Broker) Start() {
	subs := map[chan interface{}]struct{}{}
	for {
		select {
		case <-b.stopCh:
			for msgCh := range subs {
				close(msgCh)
			}
			return
		case msgCh := <-b.subCh:
			subs[msgCh] = struct{}{}
		case msgCh := <-b.unsubCh:
			if _, ok := subs[msgCh]; ok {
				delete(subs, msgCh)
				close(msgCh)
			}
		case msg := <-b.publishCh:
			for msgCh := range subs {
				// A client that has not consumed the previous notification already
				// knows it must reload.
				select {
				case msgCh <- msg:
				default:
				}
			}
		}
	}
}

func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// Subscribe returns a channel receiving every published message. It is closed on
// Unsubscribe or Stop.
func (b *Broker) Subscribe() chan interface{} {
	msgCh := make(chan interface{}, 1)
	select {
	case b.subCh <- msgCh:
	case <-b.stopCh:
		close(msgCh)
	}
	return msgCh
}

func (b *Broker) Unsubscribe(msgCh chan interface{}) {
	select {
	case b.unsubCh <- msgCh:
	case <-b.stopCh:
	}
}

func (b *Broker) Publish(msg interface{}) {
	select {
	case b.publishCh <- msg:
	case <-b.stopCh:
	}
}
