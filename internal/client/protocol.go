// Package client talks to the dashboard backend: a long-lived websocket
// channel for pushed entity events, and HTTP calls for snapshots and the
// current session. Wire types live here so no backend package is imported.
package client

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alsoamit/manager-dash-sub001/internal/entity"
)

// Event names. Lifecycle names are emitted by the Manager itself; the rest
// arrive on the wire.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
	EventState        = "state"

	EventHello = "hello"
	EventSync  = "sync"
)

// Op is the operation carried by a sync message.
type Op string

const (
	OpSnapshot Op = "snapshot"
	OpUpsert   Op = "upsert"
	OpRemove   Op = "remove"
)

// Message is the envelope for all websocket frames.
type Message struct {
	Event      string            `json:"event"`
	Seq        uint64            `json:"seq,omitempty"`
	Collection entity.Collection `json:"collection,omitempty"`
	Op         Op                `json:"op,omitempty"`
	ID         string            `json:"id,omitempty"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
}

// HelloPayload is the first frame the server sends on a new connection.
type HelloPayload struct {
	SessionID string `json:"sid"`
}

var (
	ErrUnknownCollection = errors.New("unknown collection")
	ErrUnknownOp         = errors.New("unknown op")
)

// SyncEvent is a decoded sync message: one of SnapshotSync, UpsertSync or
// RemoveSync.
type SyncEvent interface {
	Target() entity.Collection
	isSync()
}

// SnapshotSync replaces a whole collection.
type SnapshotSync struct {
	Collection entity.Collection
	Records    []entity.Record
}

// UpsertSync inserts or replaces one record.
type UpsertSync struct {
	Collection entity.Collection
	Record     entity.Record
}

// RemoveSync deletes one record by id.
type RemoveSync struct {
	Collection entity.Collection
	ID         string
}

func (e SnapshotSync) Target() entity.Collection { return e.Collection }
func (e UpsertSync) Target() entity.Collection   { return e.Collection }
func (e RemoveSync) Target() entity.Collection   { return e.Collection }

func (SnapshotSync) isSync() {}
func (UpsertSync) isSync()   {}
func (RemoveSync) isSync()   {}

// DecodeSync validates a sync message and turns it into a typed event.
// Any shape problem is reported as an error; nothing is guessed.
func DecodeSync(msg Message) (SyncEvent, error) {
	if !msg.Collection.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, msg.Collection)
	}
	switch msg.Op {
	case OpSnapshot:
		recs, err := entity.DecodeRecords(msg.Payload)
		if err != nil {
			return nil, fmt.Errorf("snapshot payload: %w", err)
		}
		return SnapshotSync{Collection: msg.Collection, Records: recs}, nil
	case OpUpsert:
		var rec entity.Record
		if len(msg.Payload) == 0 {
			return nil, fmt.Errorf("upsert payload: %w", entity.ErrMissingID)
		}
		if err := json.Unmarshal(msg.Payload, &rec); err != nil {
			return nil, fmt.Errorf("upsert payload: %w", err)
		}
		return UpsertSync{Collection: msg.Collection, Record: rec}, nil
	case OpRemove:
		id, err := removeID(msg)
		if err != nil {
			return nil, fmt.Errorf("remove payload: %w", err)
		}
		return RemoveSync{Collection: msg.Collection, ID: id}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownOp, msg.Op)
}

// removeID takes the id from the envelope, a bare JSON string payload, or
// an object payload, in that order.
func removeID(msg Message) (string, error) {
	if msg.ID != "" {
		return msg.ID, nil
	}
	if len(msg.Payload) == 0 {
		return "", entity.ErrMissingID
	}
	var s string
	if err := json.Unmarshal(msg.Payload, &s); err == nil {
		if s == "" {
			return "", entity.ErrMissingID
		}
		return s, nil
	}
	var rec entity.Record
	if err := json.Unmarshal(msg.Payload, &rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}
