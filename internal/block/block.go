// Package block implements the UserBlock lookup backing the DM block checks in ConversationStore
// and MessageIngest: a one-directional "blocker has blocked blocked" relation with no behavior
// beyond that single read.
package block

import "context"

// Checker is the storage contract both ConversationStore.BlockChecker and
// MessageIngest.BlockChecker are satisfied by.
type Checker interface {
	IsBlocked(ctx context.Context, blocker, blocked string) (bool, error)
}
