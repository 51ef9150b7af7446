// Command demo runs a small legislature entirely in one process, using
// an in-memory transport.Network instead of real sockets, and walks
// through a handful of scenarios from the specification: a basic
// proposal reaching quorum, a membership change, and an absentee-ballot
// report.
package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-kit/log"

	"github.com/senutpal/legislature/internal/paxos"
	"github.com/senutpal/legislature/internal/parliament"
	"github.com/senutpal/legislature/internal/storage"
	"github.com/senutpal/legislature/internal/transport"
)

func main() {
	members := []paxos.Replica{
		{Host: "node", Port: 1},
		{Host: "node", Port: 2},
		{Host: "node", Port: 3},
	}

	network := transport.NewNetwork()
	logger := log.NewLogfmtLogger(os.Stdout)

	var mu sync.Mutex
	applied := make(map[string][]string)

	parliaments := make(map[paxos.Replica]*parliament.Parliament, len(members))
	for _, self := range members {
		self := self
		p, err := parliament.New(parliament.Config{
			Self:                 self,
			Members:              members,
			LedgerQueue:          storage.NewMemoryQueue(),
			PromisedField:        storage.NewMemoryField(),
			AcceptedField:        storage.NewMemoryField(),
			HighestProposedField: storage.NewMemoryField(),
			ReplicaSetField:      storage.NewMemoryField(),
			Sender:               network.Sender(),
			RetryInterval:        50 * time.Millisecond,
			Pause:                paxos.RandomPause{Max: 20 * time.Millisecond},
			UserHandler: func(content []byte) error {
				mu.Lock()
				defer mu.Unlock()
				key := self.String()
				applied[key] = append(applied[key], string(content))
				return nil
			},
			Logger: log.With(logger, "node", self.String()),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start %s: %v\n", self, err)
			os.Exit(1)
		}
		parliaments[self] = p

		addr := self.String()
		go func() {
			_ = network.Receiver(addr).Serve(p.HandleInbound)
		}()
	}

	proposer := parliaments[members[0]]

	fmt.Println("--- S1/S2: proposing a user decree ---")
	proposer.SendProposal([]byte("hello, legislature"))
	waitForApply(&mu, applied, members, 1, 2*time.Second)
	report(&mu, applied)

	fmt.Println("\n--- membership change: adding a fourth legislator ---")
	newReplica := paxos.Replica{Host: "node", Port: 4}
	newParliament, err := parliament.New(parliament.Config{
		Self:                 newReplica,
		Members:              append(append([]paxos.Replica{}, members...), newReplica),
		LedgerQueue:          storage.NewMemoryQueue(),
		PromisedField:        storage.NewMemoryField(),
		AcceptedField:        storage.NewMemoryField(),
		HighestProposedField: storage.NewMemoryField(),
		ReplicaSetField:      storage.NewMemoryField(),
		Sender:               network.Sender(),
		RetryInterval:        50 * time.Millisecond,
		Pause:                paxos.RandomPause{Max: 20 * time.Millisecond},
		UserHandler: func(content []byte) error {
			mu.Lock()
			defer mu.Unlock()
			key := newReplica.String()
			applied[key] = append(applied[key], string(content))
			return nil
		},
		Logger: log.With(logger, "node", newReplica.String()),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start new replica: %v\n", err)
		os.Exit(1)
	}
	parliaments[newReplica] = newParliament
	go func() {
		_ = network.Receiver(newReplica.String()).Serve(newParliament.HandleInbound)
	}()

	ok, err := proposer.AddLegislator(newReplica.Host, newReplica.Port, "/var/lib/legislature")
	if err != nil {
		fmt.Fprintf(os.Stderr, "AddLegislator error: %v\n", err)
	}
	fmt.Printf("AddLegislator(%s) -> %v\n", newReplica, ok)
	fmt.Printf("members now known to node:1: %v\n", proposer.GetLegislators())

	fmt.Println("\n--- proposing a second decree across the expanded membership ---")
	proposer.SendProposal([]byte("second decree"))
	waitForApply(&mu, applied, members, 2, 2*time.Second)
	report(&mu, applied)

	fmt.Println("\n--- absentee ballots ---")
	for d, absentees := range proposer.GetAbsenteeBallots(10) {
		fmt.Printf("decree number=%d author=%s: absentees=%v\n", d.Number, d.Author, absentees)
	}
}

func waitForApply(mu *sync.Mutex, applied map[string][]string, members []paxos.Replica, n int, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		mu.Lock()
		ready := true
		for _, m := range members {
			if len(applied[m.String()]) < n {
				ready = false
				break
			}
		}
		mu.Unlock()
		if ready {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func report(mu *sync.Mutex, applied map[string][]string) {
	mu.Lock()
	defer mu.Unlock()
	for node, entries := range applied {
		fmt.Printf("%s learned: %v\n", node, entries)
	}
}
