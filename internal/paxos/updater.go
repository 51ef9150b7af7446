package paxos

// Updater serves catch-up requests from lagging replicas. It is a pull
// protocol driven by the learner of the lagging replica, which emits
// UpdateMessage and applies whatever UpdatedMessage comes back with the
// same gap-or-append rule it uses for Accepted votes.
type Updater struct {
	self   Replica
	ledger *Ledger
}

// NewUpdater constructs an Updater over a read-only view of the ledger.
func NewUpdater(self Replica, ledger *Ledger) *Updater {
	return &Updater{self: self, ledger: ledger}
}

// HandleUpdate replies with the decree immediately past the requester's
// root-number, or the ledger's tail if no such decree exists (the
// requester is already caught up, or further ahead than we are).
func (u *Updater) HandleUpdate(m Message) Message {
	if d, ok := u.ledger.Next(m.Decree); ok {
		return Message{From: u.self, To: m.From, Type: UpdatedMessage, Decree: d}
	}
	tail, _ := u.ledger.Tail()
	return Message{From: u.self, To: m.From, Type: UpdatedMessage, Decree: tail}
}
