package paxos

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/senutpal/legislature/internal/bootstrap"
	"github.com/senutpal/legislature/internal/metrics"
	"github.com/senutpal/legislature/internal/storage"
)

// addReplicaRecord is the gob-encoded content of an AddReplicaDecree.
type addReplicaRecord struct {
	Author          Replica
	NewReplica      Replica
	RemoteDirectory string
}

// removeReplicaRecord is the gob-encoded content of a RemoveReplicaDecree.
type removeReplicaRecord struct {
	Author  Replica
	Replica Replica
}

// EncodeAddReplica builds the Content payload for an AddReplicaDecree.
func EncodeAddReplica(author, newReplica Replica, remoteDirectory string) ([]byte, error) {
	var buf bytes.Buffer
	rec := addReplicaRecord{Author: author, NewReplica: newReplica, RemoteDirectory: remoteDirectory}
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, errors.Wrap(err, "paxos: encode add-replica record")
	}
	return buf.Bytes(), nil
}

// EncodeRemoveReplica builds the Content payload for a RemoveReplicaDecree.
func EncodeRemoveReplica(author, replica Replica) ([]byte, error) {
	var buf bytes.Buffer
	rec := removeReplicaRecord{Author: author, Replica: replica}
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, errors.Wrap(err, "paxos: encode remove-replica record")
	}
	return buf.Bytes(), nil
}

func decodeAddReplica(raw []byte) (addReplicaRecord, error) {
	var rec addReplicaRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return addReplicaRecord{}, err
	}
	return rec, nil
}

func decodeRemoveReplica(raw []byte) (removeReplicaRecord, error) {
	var rec removeReplicaRecord
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&rec); err != nil {
		return removeReplicaRecord{}, err
	}
	return rec, nil
}

// MembershipHandlersConfig bundles a MembershipHandlers's dependencies.
type MembershipHandlersConfig struct {
	Self         Replica
	Replicas     *ReplicaSet
	ReplicaField storage.Field
	// Transferer and Snapshot are consulted only when this replica is the
	// author of an applied AddReplicaDecree. Either may be nil, in which
	// case the bootstrap transfer step is skipped (resolve still fires).
	Transferer bootstrap.Transferer
	Snapshot   func() ([]bootstrap.File, error)
	// Resolve fires the Signal a caller is blocked on (AddLegislator,
	// RemoveLegislator), keyed by the decree's RootNumber. Typically
	// (*Proposer).ResolveSignal.
	Resolve func(rootNumber int64, ok bool)
	Logger  log.Logger
	Stats   metrics.Recorder
}

// MembershipHandlers implements the apply-side handlers for
// AddReplicaDecree and RemoveReplicaDecree (spec §4.6): mutating the
// shared membership view, persisting it, and — for the authoring
// replica of an add — transferring bootstrap state to the newcomer.
type MembershipHandlers struct {
	self         Replica
	replicas     *ReplicaSet
	replicaField storage.Field
	transferer   bootstrap.Transferer
	snapshot     func() ([]bootstrap.File, error)
	resolve      func(rootNumber int64, ok bool)
	logger       log.Logger
	stats        metrics.Recorder
}

// NewMembershipHandlers constructs a MembershipHandlers.
func NewMembershipHandlers(cfg MembershipHandlersConfig) *MembershipHandlers {
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	if cfg.Stats == nil {
		cfg.Stats = metrics.NoopClient{}
	}
	return &MembershipHandlers{
		self:         cfg.Self,
		replicas:     cfg.Replicas,
		replicaField: cfg.ReplicaField,
		transferer:   cfg.Transferer,
		snapshot:     cfg.Snapshot,
		resolve:      cfg.Resolve,
		logger:       cfg.Logger,
		stats:        cfg.Stats,
	}
}

func (h *MembershipHandlers) persistReplicaSet() error {
	if h.replicaField == nil {
		return nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h.replicas.Snapshot()); err != nil {
		return errors.Wrap(err, "paxos: encode replica set")
	}
	return h.replicaField.Put(buf.Bytes())
}

// HandleAddReplica is the Ledger ApplyHandler bound to AddReplicaDecree.
func (h *MembershipHandlers) HandleAddReplica(d Decree) error {
	rec, err := decodeAddReplica(d.Content)
	if err != nil {
		return errors.Wrap(err, "paxos: decode add-replica decree")
	}
	h.replicas.Add(rec.NewReplica)
	if err := h.persistReplicaSet(); err != nil {
		level.Error(h.logger).Log("msg", "durable write failure persisting replica set", "err", err)
		return err
	}
	h.stats.Incr("membership.add", 1)
	level.Debug(h.logger).Log("msg", "added legislator", "replica", rec.NewReplica)

	if rec.Author != h.self {
		return nil
	}
	ok := true
	if h.transferer != nil && h.snapshot != nil {
		files, err := h.snapshot()
		if err != nil {
			level.Error(h.logger).Log("msg", "bootstrap snapshot failed", "err", err)
			ok = false
		} else {
			addr := fmt.Sprintf("%s:%d", rec.NewReplica.Host, rec.NewReplica.Port+1)
			if err := h.transferer.Send(addr, files); err != nil {
				level.Warn(h.logger).Log("msg", "bootstrap transfer failed", "to", addr, "err", err)
				ok = false
			}
		}
	}
	if h.resolve != nil {
		h.resolve(d.RootNumber, ok)
	}
	return nil
}

// HandleRemoveReplica is the Ledger ApplyHandler bound to RemoveReplicaDecree.
func (h *MembershipHandlers) HandleRemoveReplica(d Decree) error {
	rec, err := decodeRemoveReplica(d.Content)
	if err != nil {
		return errors.Wrap(err, "paxos: decode remove-replica decree")
	}
	h.replicas.Remove(rec.Replica)
	if err := h.persistReplicaSet(); err != nil {
		level.Error(h.logger).Log("msg", "durable write failure persisting replica set", "err", err)
		return err
	}
	h.stats.Incr("membership.remove", 1)
	level.Debug(h.logger).Log("msg", "removed legislator", "replica", rec.Replica)

	if rec.Author == h.self && h.resolve != nil {
		h.resolve(d.RootNumber, true)
	}
	return nil
}

func getOrNil(f storage.Field) []byte {
	if f == nil {
		return nil
	}
	raw, err := f.Get()
	if err != nil {
		return nil
	}
	return raw
}

// BuildBootstrapSnapshot gathers the current durable state into an
// ordered bootstrap.File sequence for transferring to a newly added
// replica: an empty membership file first — so the recipient cannot
// mistake itself for caught-up before the transfer completes — then the
// ledger and acceptor/proposer fields, with the true membership file
// last.
func BuildBootstrapSnapshot(ledgerQueue storage.Queue, promisedField, acceptedField, highestProposedField, replicaField storage.Field) ([]bootstrap.File, error) {
	files := []bootstrap.File{
		{Name: "paxos.replicaset", Content: nil},
	}

	entries, err := ledgerQueue.All()
	if err != nil {
		return nil, errors.Wrap(err, "paxos: read ledger for bootstrap snapshot")
	}
	var ledgerBuf bytes.Buffer
	if err := gob.NewEncoder(&ledgerBuf).Encode(entries); err != nil {
		return nil, errors.Wrap(err, "paxos: encode ledger for bootstrap snapshot")
	}
	files = append(files,
		bootstrap.File{Name: "paxos.ledger", Content: ledgerBuf.Bytes()},
		bootstrap.File{Name: "paxos.promised_decree", Content: getOrNil(promisedField)},
		bootstrap.File{Name: "paxos.accepted_decree", Content: getOrNil(acceptedField)},
		bootstrap.File{Name: "paxos.highest_proposed_decree", Content: getOrNil(highestProposedField)},
		bootstrap.File{Name: "paxos.replicaset", Content: getOrNil(replicaField)},
	)
	return files, nil
}
