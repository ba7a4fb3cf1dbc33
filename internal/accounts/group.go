package accounts

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/axiomrelay/gateway/internal/kvstore"
)

// GroupRepository manages AccountGroup records: named subsets of one
// platform's accounts that an ApiKey binding slot may target as
// "group:<id>".
type GroupRepository struct {
	platform Platform
	kv       kvstore.Store
}

// NewGroupRepository builds a GroupRepository for platform p.
func NewGroupRepository(p Platform, kv kvstore.Store) *GroupRepository {
	return &GroupRepository{platform: p, kv: kv}
}

func (g *GroupRepository) key(id string) string {
	return fmt.Sprintf("%s_account_group:%s", g.platform, id)
}

func (g *GroupRepository) membersKey(id string) string {
	return fmt.Sprintf("%s_account_group:%s:members", g.platform, id)
}

// Create persists a group and its member set.
func (g *GroupRepository) Create(ctx context.Context, grp *Group) error {
	grp.Platform = g.platform
	body, err := json.Marshal(grp)
	if err != nil {
		return err
	}
	if err := g.kv.Set(ctx, g.key(grp.ID), string(body), 0); err != nil {
		return err
	}
	if len(grp.Members) > 0 {
		return g.kv.SAdd(ctx, g.membersKey(grp.ID), grp.Members...)
	}
	return nil
}

// Get loads a group and refreshes its Members field from the live set
// (membership add/remove bypasses the JSON blob for atomicity).
func (g *GroupRepository) Get(ctx context.Context, id string) (*Group, error) {
	body, err := g.kv.Get(ctx, g.key(id))
	if err != nil {
		return nil, err
	}
	var grp Group
	if err := json.Unmarshal([]byte(body), &grp); err != nil {
		return nil, err
	}
	members, err := g.kv.SMembers(ctx, g.membersKey(id))
	if err != nil {
		return nil, err
	}
	grp.Members = members
	return &grp, nil
}

// AddMember adds accountID to the group's membership set.
func (g *GroupRepository) AddMember(ctx context.Context, groupID, accountID string) error {
	return g.kv.SAdd(ctx, g.membersKey(groupID), accountID)
}

// RemoveMember removes accountID from the group's membership set.
func (g *GroupRepository) RemoveMember(ctx context.Context, groupID, accountID string) error {
	return g.kv.SRem(ctx, g.membersKey(groupID), accountID)
}

// Delete removes the group record and its membership set.
func (g *GroupRepository) Delete(ctx context.Context, id string) error {
	return g.kv.Del(ctx, g.key(id), g.membersKey(id))
}
