package scheduler

import "github.com/signalsfoundry/nan-scheduler/model"

// txnRing is the bounded FIFO of pending negotiation transactions.
type txnRing struct {
	buf  []Transaction
	head int
	n    int
}

func newTxnRing(capacity int) *txnRing {
	if capacity < 1 {
		capacity = 1
	}
	return &txnRing{buf: make([]Transaction, capacity)}
}

func (r *txnRing) len() int { return r.n }

func (r *txnRing) full() bool { return r.n == len(r.buf) }

func (r *txnRing) push(t Transaction) bool {
	if r.full() {
		return false
	}
	r.buf[(r.head+r.n)%len(r.buf)] = t
	r.n++
	return true
}

func (r *txnRing) pop() (Transaction, bool) {
	if r.n == 0 {
		return Transaction{}, false
	}
	t := r.buf[r.head]
	r.buf[r.head] = Transaction{}
	r.head = (r.head + 1) % len(r.buf)
	r.n--
	return t, true
}

// removePeer drops every queued transaction for mac, keeping order, and
// returns the dropped ones.
func (r *txnRing) removePeer(mac model.MACAddress) []Transaction {
	var kept, dropped []Transaction
	for r.n > 0 {
		t, _ := r.pop()
		if t.Peer == mac {
			dropped = append(dropped, t)
			continue
		}
		kept = append(kept, t)
	}
	for _, t := range kept {
		r.push(t)
	}
	return dropped
}
