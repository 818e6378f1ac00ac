// Package conflict records backend rejections as reviewable conflicts and
// applies operator resolution decisions. Nothing here auto-resolves: every
// structural rejection waits for a human call.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"tillsync/backend"
	"tillsync/pos"
	"tillsync/store"
)

// EventEmitter is the interface the resolver uses to announce conflicts.
type EventEmitter interface {
	EmitConflictDetected(c *store.ConflictRecord)
	EmitConflictResolved(c *store.ConflictRecord, resolution string)
}

// Resolver turns structural backend rejections into conflict records and
// carries out keep_local / keep_server / skip decisions.
type Resolver struct {
	db      *store.DB
	remote  backend.Client
	emitter EventEmitter
}

// NewResolver creates a conflict resolver.
func NewResolver(db *store.DB, remote backend.Client, emitter EventEmitter) *Resolver {
	return &Resolver{db: db, remote: remote, emitter: emitter}
}

// conflictType maps a backend error kind to the stored classification.
// Unrecognized rejections are recorded as version mismatches so an operator
// still reviews them instead of the item being silently dropped.
func conflictType(kind backend.ErrorKind) string {
	switch kind {
	case backend.KindDuplicate:
		return store.ConflictDuplicate
	case backend.KindFKMissing:
		return store.ConflictFKViolation
	case backend.KindStaleVersion:
		return store.ConflictVersionMismatch
	case backend.KindDeleted:
		return store.ConflictDeleted
	default:
		return store.ConflictVersionMismatch
	}
}

// HandleRejection records a conflict for a queue item the backend rejected.
// For duplicate and version conflicts it fetches the server's current copy
// so the operator sees both sides; a failed fetch still records the conflict
// with an empty server side.
func (r *Resolver) HandleRejection(ctx context.Context, item *store.QueueItem, remoteErr *backend.RemoteError) error {
	entityID := pos.EntityIDOf(item.Payload)
	cType := conflictType(remoteErr.Kind)

	var serverData []byte
	switch remoteErr.Kind {
	case backend.KindDuplicate, backend.KindStaleVersion:
		if entityID != "" {
			data, err := r.remote.Fetch(ctx, item.Type, entityID)
			if err != nil {
				log.Printf("conflict: fetch server copy of %s/%s: %v", item.Type, entityID, err)
			} else {
				serverData = data
			}
		}
	}

	id, err := r.db.InsertConflict(item.ID, item.Type, entityID, cType, item.Payload, serverData)
	if err != nil {
		return fmt.Errorf("insert conflict for item %s: %w", item.ID, err)
	}

	rec, err := r.db.GetConflict(id)
	if err != nil {
		return err
	}
	if rec != nil {
		r.emitter.EmitConflictDetected(rec)
	}
	return nil
}

// Resolve applies an operator decision to an unresolved conflict.
//
//   - keep_local: force-push the local copy to the backend, then mark the
//     queue item synced.
//   - keep_server: adopt the server's copy into the local cache and discard
//     the queued write.
//   - skip: discard the queued write without touching either side.
//
// The conflict record stays in the table for audit either way.
func (r *Resolver) Resolve(ctx context.Context, id int64, resolution string) error {
	rec, err := r.db.GetConflict(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("conflict %d not found", id)
	}
	if rec.Resolution != store.ResolutionUnresolved {
		return fmt.Errorf("conflict %d already resolved as %s", id, rec.Resolution)
	}

	switch resolution {
	case store.ResolutionKeepLocal:
		if err := r.keepLocal(ctx, rec); err != nil {
			return err
		}
	case store.ResolutionKeepServer:
		if err := r.adoptServer(rec); err != nil {
			return err
		}
		if err := r.db.RemoveQueueItem(rec.QueueItemID); err != nil {
			return fmt.Errorf("remove queue item %s: %w", rec.QueueItemID, err)
		}
	case store.ResolutionSkip:
		if err := r.db.RemoveQueueItem(rec.QueueItemID); err != nil {
			return fmt.Errorf("remove queue item %s: %w", rec.QueueItemID, err)
		}
	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}

	if err := r.db.MarkConflictResolved(id, resolution); err != nil {
		return err
	}
	r.emitter.EmitConflictResolved(rec, resolution)
	return nil
}

// adoptServer writes the server's copy of the disputed entity into the
// local cache under the entity type's domain, so reads reflect the accepted
// state immediately. Nothing to adopt (the server copy was gone or never
// fetched) is not an error: the discard alone settles the conflict.
func (r *Resolver) adoptServer(rec *store.ConflictRecord) error {
	if rec.EntityID == "" || len(rec.ServerData) == 0 || string(rec.ServerData) == "{}" {
		return nil
	}
	var stamped struct {
		UpdatedAt string `json:"updated_at"`
	}
	if err := json.Unmarshal(rec.ServerData, &stamped); err != nil {
		return fmt.Errorf("parse server copy of %s/%s: %w", rec.EntityType, rec.EntityID, err)
	}
	entry := store.CatalogEntry{
		Domain:    rec.EntityType,
		ID:        rec.EntityID,
		Payload:   rec.ServerData,
		Active:    true,
		UpdatedAt: stamped.UpdatedAt,
	}
	if err := r.db.UpsertCatalogEntries([]store.CatalogEntry{entry}); err != nil {
		return fmt.Errorf("adopt server copy of %s/%s: %w", rec.EntityType, rec.EntityID, err)
	}
	return nil
}

// keepLocal overwrites the server copy with the local one. When the server
// record is gone (deleted conflicts, or a duplicate that vanished since
// detection), the local copy is re-inserted instead.
func (r *Resolver) keepLocal(ctx context.Context, rec *store.ConflictRecord) error {
	var err error
	if rec.EntityID != "" && rec.ConflictType != store.ConflictDeleted {
		_, err = r.remote.Update(ctx, rec.EntityType, rec.EntityID, rec.LocalData)
	} else {
		_, err = r.remote.Insert(ctx, rec.EntityType, rec.LocalData)
	}
	if err != nil {
		if re, ok := backend.AsRemoteError(err); ok && re.Kind == backend.KindDeleted {
			if _, err = r.remote.Insert(ctx, rec.EntityType, rec.LocalData); err != nil {
				return fmt.Errorf("re-insert %s/%s: %w", rec.EntityType, rec.EntityID, err)
			}
		} else {
			return fmt.Errorf("push local %s/%s: %w", rec.EntityType, rec.EntityID, err)
		}
	}
	if err := r.db.MarkQueueItemSynced(rec.QueueItemID); err != nil {
		return fmt.Errorf("mark item %s synced: %w", rec.QueueItemID, err)
	}
	return nil
}

// DiffFor renders the operator-facing field diff for a conflict.
func (r *Resolver) DiffFor(id int64) (*store.ConflictRecord, []FieldDiff, error) {
	rec, err := r.db.GetConflict(id)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, fmt.Errorf("conflict %d not found", id)
	}
	return rec, Diff(rec.LocalData, rec.ServerData), nil
}
