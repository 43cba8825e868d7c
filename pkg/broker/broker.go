package broker

// Broker is a fan-out pub/sub primitive. Messages published while the
// broker is running are delivered to every subscribed channel. Run the
// event loop with Start (usually in a goroutine) and stop it with Close.
type Broker[T any] struct {
	stopChan    chan struct{}
	publishChan chan T
	subChan     chan chan T
	unsubChan   chan chan T
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		stopChan:    make(chan struct{}),
		publishChan: make(chan T, 1),
		subChan:     make(chan chan T, 1),
		unsubChan:   make(chan chan T, 1),
	}
}

// Start runs the broker event loop, blocking until Close is called.
func (broker *Broker[T]) Start() {
	subscribers := map[chan T]struct{}{}
	for {
		select {
		case <-broker.stopChan:
			for ch := range subscribers {
				close(ch)
			}
			return
		case ch := <-broker.subChan:
			subscribers[ch] = struct{}{}
		case ch := <-broker.unsubChan:
			if _, ok := subscribers[ch]; ok {
				delete(subscribers, ch)
				close(ch)
			}
		case msg := <-broker.publishChan:
			for ch := range subscribers {
				select {
				case ch <- msg:
				default:
				}
			}
		}
	}
}

func (broker *Broker[T]) Close() {
	close(broker.stopChan)
}

// Subscribe returns a new channel which will receive all messages
// published to this broker. The channel is buffered; subscribers that
// fall behind will miss messages rather than block the broker.
func (broker *Broker[T]) Subscribe() chan T {
	ch := make(chan T, 5)
	broker.subChan <- ch
	return ch
}

func (broker *Broker[T]) Unsubscribe(ch chan T) {
	broker.unsubChan <- ch
}

func (broker *Broker[T]) Publish(msg T) {
	broker.publishChan <- msg
}
