// Package service keeps one loaded family tree per family in memory and
// applies changes to the store before the in-memory graph.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukerupert/heirloom/internal/familytree"
	"github.com/dukerupert/heirloom/internal/model"
	"github.com/dukerupert/heirloom/internal/store"
)

// ErrValidation wraps request validation failures detected before any store call.
var ErrValidation = errors.New("validation failed")

// Stores bundles the persistence a Tree needs.
type Stores struct {
	Members       *store.TreeMemberStore
	Relationships *store.RelationshipStore
}

// ChangeEvent describes one applied change.
type ChangeEvent struct {
	Entity   string
	Action   string
	ID       string
	FamilyID string
}

const (
	EntityMember       = "family_tree_member"
	EntityRelationship = "family_relationship"
	EntityTree         = "family_tree"

	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionRefreshed = "refreshed"
)

// Snapshot is a consistent read of a family tree. Nothing in it is mutated
// after it is returned.
type Snapshot struct {
	FamilyID      string                     `json:"family_id"`
	Members       []model.FamilyMember       `json:"members"`
	Relationships []model.FamilyRelationship `json:"relationships"`
	Forest        []*familytree.TreeNode     `json:"forest"`
	Quarantined   []store.Quarantined        `json:"quarantined,omitempty"`
	LoadedAt      time.Time                  `json:"loaded_at"`
}

// Tree is the loaded family tree of one family.
type Tree struct {
	familyID string
	stores   Stores
	logger   *slog.Logger

	// writeMu serializes mutations and reloads of the family. A Registry
	// shares it between every Tree it ever builds for the same family.
	writeMu *sync.Mutex
	// retired is set once a Registry stops serving this Tree. A retired
	// Tree reloads before each write.
	retired atomic.Bool
	// onChange receives every applied change after writeMu is released.
	onChange func(*Tree, ChangeEvent)

	// mu guards the fields below.
	mu          sync.RWMutex
	graph       *familytree.Graph
	forest      []*familytree.TreeNode
	quarantined []store.Quarantined
	loadedAt    time.Time
}

// NewTree returns an unloaded tree. Call Load before reading.
func NewTree(familyID string, stores Stores, logger *slog.Logger) *Tree {
	return newTree(familyID, stores, logger, new(sync.Mutex), nil)
}

func newTree(familyID string, stores Stores, logger *slog.Logger, writeMu *sync.Mutex, onChange func(*Tree, ChangeEvent)) *Tree {
	return &Tree{
		familyID: familyID,
		stores:   stores,
		logger:   logger.With("component", "family_tree", "family_id", familyID),
		writeMu:  writeMu,
		onChange: onChange,
		graph:    familytree.NewGraph(nil, nil),
	}
}

func (t *Tree) FamilyID() string { return t.familyID }

// Load reads both tables and replaces the in-memory graph.
func (t *Tree) Load(ctx context.Context) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.load(ctx)
}

func (t *Tree) load(ctx context.Context) error {
	members, badMembers, err := t.stores.Members.ListByFamily(ctx, t.familyID)
	if err != nil {
		t.logger.Error("load members", "error", err)
		return fmt.Errorf("load family tree: %w", err)
	}
	rels, badRels, err := t.stores.Relationships.ListByFamily(ctx, t.familyID)
	if err != nil {
		t.logger.Error("load relationships", "error", err)
		return fmt.Errorf("load family tree: %w", err)
	}

	bad := append(badMembers, badRels...)
	for _, q := range bad {
		t.logger.Warn("quarantined row", "table", q.Table, "id", q.ID, "reason", q.Reason)
	}

	g := familytree.NewGraph(members, rels)
	t.mu.Lock()
	t.graph = g
	t.forest = nil
	t.quarantined = bad
	t.loadedAt = time.Now().UTC()
	t.mu.Unlock()

	t.logger.Debug("family tree loaded", "members", len(members), "relationships", len(rels), "quarantined", len(bad))
	return nil
}

// Refresh reloads from the store and reports a refreshed change.
func (t *Tree) Refresh(ctx context.Context) error {
	t.writeMu.Lock()
	err := t.load(ctx)
	t.writeMu.Unlock()
	if err != nil {
		return err
	}
	t.notify(EntityTree, ActionRefreshed, t.familyID)
	return nil
}

// lockWrite takes the family write lock. A retired tree may have missed writes
// made through its replacement, so it reloads first.
func (t *Tree) lockWrite(ctx context.Context) error {
	t.writeMu.Lock()
	if !t.retired.Load() {
		return nil
	}
	if err := t.load(ctx); err != nil {
		t.writeMu.Unlock()
		return err
	}
	return nil
}

// Snapshot returns the current members, relationships and forest. The forest
// is built on first use after each change.
func (t *Tree) Snapshot() Snapshot {
	t.mu.RLock()
	if t.forest != nil {
		s := t.snapshotLocked()
		t.mu.RUnlock()
		return s
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.forest == nil {
		t.forest = familytree.BuildForest(t.graph)
	}
	return t.snapshotLocked()
}

func (t *Tree) snapshotLocked() Snapshot {
	return Snapshot{
		FamilyID:      t.familyID,
		Members:       t.graph.Members(),
		Relationships: t.graph.Edges(),
		Forest:        t.forest,
		Quarantined:   append([]store.Quarantined(nil), t.quarantined...),
		LoadedAt:      t.loadedAt,
	}
}

// Relatives resolves the immediate relatives of a member.
func (t *Tree) Relatives(id string) (familytree.Relatives, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.graph.Member(id); !ok {
		return familytree.Relatives{}, familytree.ErrMemberNotFound
	}
	return t.graph.Relatives(id), nil
}

// CurrentUserNode returns the forest node linked to userID, or nil.
func (t *Tree) CurrentUserNode(userID string) *familytree.TreeNode {
	if userID == "" {
		return nil
	}
	return familytree.FindByUser(t.Snapshot().Forest, userID)
}

// AddMember validates and persists a new member.
func (t *Tree) AddMember(ctx context.Context, m model.FamilyMember) (model.FamilyMember, error) {
	if err := t.lockWrite(ctx); err != nil {
		return model.FamilyMember{}, err
	}
	created, err := t.addMember(ctx, m)
	t.writeMu.Unlock()
	if err != nil {
		return model.FamilyMember{}, err
	}
	t.notify(EntityMember, ActionCreated, created.ID)
	return created, nil
}

func (t *Tree) addMember(ctx context.Context, m model.FamilyMember) (model.FamilyMember, error) {
	m.FamilyID = t.familyID
	m.FullName = strings.TrimSpace(m.FullName)
	if err := familytree.ValidateMember(m); err != nil {
		return model.FamilyMember{}, err
	}
	t.mu.RLock()
	err := t.graph.CheckUserLink("", m.UserID)
	t.mu.RUnlock()
	if err != nil {
		return model.FamilyMember{}, err
	}
	created, err := t.stores.Members.Create(ctx, m)
	if err != nil {
		t.logger.Error("create member", "error", err)
		return model.FamilyMember{}, fmt.Errorf("add member: %w", err)
	}
	t.apply(func(g *familytree.Graph) error { return g.AddMember(*created) })
	return *created, nil
}

// AddRelatedMember adds a member and an edge from relateTo to it. Both the
// member and the edge are checked before anything is written. The member is
// kept if the edge write fails.
func (t *Tree) AddRelatedMember(ctx context.Context, m model.FamilyMember, relateTo string, typ model.RelationshipType) (model.FamilyMember, *model.FamilyRelationship, error) {
	if err := t.lockWrite(ctx); err != nil {
		return model.FamilyMember{}, nil, err
	}
	created, rel, err := t.addRelatedMember(ctx, m, relateTo, typ)
	t.writeMu.Unlock()

	if created.ID != "" {
		t.notify(EntityMember, ActionCreated, created.ID)
	}
	if rel != nil {
		t.notify(EntityRelationship, ActionCreated, rel.ID)
	}
	return created, rel, err
}

func (t *Tree) addRelatedMember(ctx context.Context, m model.FamilyMember, relateTo string, typ model.RelationshipType) (model.FamilyMember, *model.FamilyRelationship, error) {
	m.FamilyID = t.familyID
	if err := familytree.ValidateMember(m); err != nil {
		return model.FamilyMember{}, nil, err
	}
	if !typ.Valid() {
		return model.FamilyMember{}, nil, familytree.ErrInvalidRelationship
	}
	if _, ok := t.member(relateTo); !ok {
		return model.FamilyMember{}, nil, fmt.Errorf("related person %s: %w", relateTo, familytree.ErrMemberNotFound)
	}

	created, err := t.addMember(ctx, m)
	if err != nil {
		return model.FamilyMember{}, nil, err
	}
	rel, err := t.addRelationship(ctx, model.FamilyRelationship{
		PersonID:        relateTo,
		RelatedPersonID: created.ID,
		Type:            typ,
	})
	if err != nil {
		return created, nil, err
	}
	return created, &rel, nil
}

// UpdateMember merges patch into the member and persists the result.
func (t *Tree) UpdateMember(ctx context.Context, id string, patch model.MemberPatch) (model.FamilyMember, error) {
	if err := t.lockWrite(ctx); err != nil {
		return model.FamilyMember{}, err
	}
	updated, err := t.updateMember(ctx, id, patch)
	t.writeMu.Unlock()
	if err != nil {
		return model.FamilyMember{}, err
	}
	t.notify(EntityMember, ActionUpdated, id)
	return updated, nil
}

func (t *Tree) updateMember(ctx context.Context, id string, patch model.MemberPatch) (model.FamilyMember, error) {
	current, ok := t.member(id)
	if !ok {
		return model.FamilyMember{}, familytree.ErrMemberNotFound
	}
	if patch.Empty() {
		return current, nil
	}

	t.mu.RLock()
	next := t.graph.Clone()
	t.mu.RUnlock()
	merged, err := next.UpdateMember(id, patch)
	if err != nil {
		return model.FamilyMember{}, err
	}

	stored, err := t.stores.Members.Update(ctx, merged)
	if err != nil {
		t.logger.Error("update member", "member_id", id, "error", err)
		return model.FamilyMember{}, fmt.Errorf("update member: %w", err)
	}
	if stored == nil {
		// deleted underneath us by another writer
		t.apply(func(g *familytree.Graph) error {
			_, err := g.RemoveMember(id)
			return err
		})
		return model.FamilyMember{}, familytree.ErrMemberNotFound
	}
	// pick up the timestamps the store assigned
	if err := next.ReplaceMember(*stored); err != nil {
		t.logger.Warn("graph out of sync with store", "error", err)
		return *stored, nil
	}
	t.publish(next)
	return *stored, nil
}

// DeleteMember removes the member and every edge touching it.
func (t *Tree) DeleteMember(ctx context.Context, id string) error {
	if err := t.lockWrite(ctx); err != nil {
		return err
	}
	err := t.deleteMember(ctx, id)
	t.writeMu.Unlock()
	if err != nil {
		return err
	}
	t.notify(EntityMember, ActionDeleted, id)
	return nil
}

func (t *Tree) deleteMember(ctx context.Context, id string) error {
	if _, ok := t.member(id); !ok {
		return familytree.ErrMemberNotFound
	}
	if _, err := t.stores.Members.Delete(ctx, t.familyID, id); err != nil {
		t.logger.Error("delete member", "member_id", id, "error", err)
		return fmt.Errorf("delete member: %w", err)
	}
	t.apply(func(g *familytree.Graph) error {
		_, err := g.RemoveMember(id)
		return err
	})
	return nil
}

// AddRelationship validates and persists a new edge.
func (t *Tree) AddRelationship(ctx context.Context, rel model.FamilyRelationship) (model.FamilyRelationship, error) {
	if err := t.lockWrite(ctx); err != nil {
		return model.FamilyRelationship{}, err
	}
	created, err := t.addRelationship(ctx, rel)
	t.writeMu.Unlock()
	if err != nil {
		return model.FamilyRelationship{}, err
	}
	t.notify(EntityRelationship, ActionCreated, created.ID)
	return created, nil
}

func (t *Tree) addRelationship(ctx context.Context, rel model.FamilyRelationship) (model.FamilyRelationship, error) {
	rel.FamilyID = t.familyID
	t.mu.RLock()
	err := t.graph.CheckEdge(rel)
	t.mu.RUnlock()
	if err != nil {
		return model.FamilyRelationship{}, err
	}
	created, err := t.stores.Relationships.Create(ctx, rel)
	if err != nil {
		t.logger.Error("create relationship", "person_id", rel.PersonID, "related_person_id", rel.RelatedPersonID, "error", err)
		return model.FamilyRelationship{}, fmt.Errorf("add relationship: %w", err)
	}
	t.apply(func(g *familytree.Graph) error { return g.AddEdge(*created) })
	return *created, nil
}

// RemoveRelationship deletes every edge between a and b in either order. It
// returns the number of edges removed.
func (t *Tree) RemoveRelationship(ctx context.Context, a, b string) (int, error) {
	if err := t.lockWrite(ctx); err != nil {
		return 0, err
	}
	n, err := t.removeRelationship(ctx, a, b)
	t.writeMu.Unlock()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		t.notify(EntityRelationship, ActionDeleted, a+":"+b)
	}
	return n, nil
}

func (t *Tree) removeRelationship(ctx context.Context, a, b string) (int, error) {
	if a == "" || b == "" {
		return 0, fmt.Errorf("%w: person_id and related_person_id are required", ErrValidation)
	}
	if _, err := t.stores.Relationships.DeletePair(ctx, t.familyID, a, b); err != nil {
		t.logger.Error("delete relationship", "person_id", a, "related_person_id", b, "error", err)
		return 0, fmt.Errorf("remove relationship: %w", err)
	}
	var removed int
	t.apply(func(g *familytree.Graph) error {
		removed = len(g.RemoveEdges(a, b))
		return nil
	})
	return removed, nil
}

func (t *Tree) notify(entity, action, id string) {
	if t.onChange != nil {
		t.onChange(t, ChangeEvent{Entity: entity, Action: action, ID: id, FamilyID: t.familyID})
	}
}

func (t *Tree) member(id string) (model.FamilyMember, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.graph.Member(id)
}

// apply runs fn on a copy of the graph and publishes the copy. Readers holding
// an earlier snapshot keep the old graph and forest.
func (t *Tree) apply(fn func(g *familytree.Graph) error) {
	t.mu.RLock()
	next := t.graph.Clone()
	t.mu.RUnlock()
	if err := fn(next); err != nil {
		// the store accepted a write the graph rejects; keep serving the old
		// graph until the next refresh
		t.logger.Warn("graph out of sync with store", "error", err)
		return
	}
	t.publish(next)
}

// publish swaps in g. Callers hold writeMu, so g was cloned from the graph
// it replaces.
func (t *Tree) publish(g *familytree.Graph) {
	t.mu.Lock()
	t.graph = g
	t.forest = nil
	t.mu.Unlock()
}
