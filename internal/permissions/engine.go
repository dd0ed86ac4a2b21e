// Package permissions answers who may message, see, or forward what, given
// privacy settings and friendship-graph facts. It holds no state of its own
// and never writes anywhere.
package permissions

import (
	"context"

	"messaging-core/internal/models"
)

// Deny reasons surfaced with PermissionDenied errors.
const (
	ReasonRecipientBlocksMessages = "recipient_blocks_messages"
	ReasonNotFriends              = "not_friends"
	ReasonNoMutualFriends         = "no_mutual_friends"
	ReasonUnknownPrivacyLevel     = "unknown_privacy_level"
	ReasonForwardingDisabled      = "forwarding_disabled"
	ReasonNotSourceParticipant    = "not_source_participant"
)

// Graph is the read-only friendship oracle.
type Graph interface {
	AreFriends(ctx context.Context, userID, otherID int) (bool, error)
	HaveMutualFriends(ctx context.Context, userID, otherID int) (bool, error)
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision        { return Decision{Allowed: true} }
func deny(r string) Decision { return Decision{Allowed: false, Reason: r} }

// Engine evaluates privacy rules against the friendship graph.
type Engine struct {
	graph Graph
}

// NewEngine constructs an Engine.
func NewEngine(graph Graph) *Engine {
	return &Engine{graph: graph}
}

// CanSendMessage decides whether sender may message the recipient under the
// recipient's settings. Unrecognized levels fail closed.
func (e *Engine) CanSendMessage(ctx context.Context, senderID, recipientID int, recipient models.PrivacySettings) (Decision, error) {
	if senderID == recipientID {
		return allow(), nil
	}

	switch recipient.AllowMessagesFrom {
	case models.AllowEveryone:
		return allow(), nil
	case models.AllowNobody:
		return deny(ReasonRecipientBlocksMessages), nil
	case models.AllowFriends:
		friends, err := e.graph.AreFriends(ctx, senderID, recipientID)
		if err != nil {
			return Decision{}, err
		}
		if !friends {
			return deny(ReasonNotFriends), nil
		}
		return allow(), nil
	case models.AllowFriendsOfFriend:
		friends, err := e.graph.AreFriends(ctx, senderID, recipientID)
		if err != nil {
			return Decision{}, err
		}
		if friends {
			return allow(), nil
		}
		mutual, err := e.graph.HaveMutualFriends(ctx, senderID, recipientID)
		if err != nil {
			return Decision{}, err
		}
		if !mutual {
			return deny(ReasonNoMutualFriends), nil
		}
		return allow(), nil
	default:
		return deny(ReasonUnknownPrivacyLevel), nil
	}
}

// ShouldSendReadReceipt is true only when both sides allow receipts; either
// party can unilaterally suppress them.
func ShouldSendReadReceipt(reader, sender models.PrivacySettings) bool {
	return reader.AllowReadReceipts && sender.AllowReadReceipts
}

// CanForwardMessage gates forwarding on the original sender's flag. The
// caller must be a participant of the source chat or the original sender.
func CanForwardMessage(originalSender models.PrivacySettings, forwarderID, originalSenderID int, isSourceParticipant bool) Decision {
	if !originalSender.AllowForwarding {
		return deny(ReasonForwardingDisabled)
	}
	if forwarderID != originalSenderID && !isSourceParticipant {
		return deny(ReasonNotSourceParticipant)
	}
	return allow()
}

// CanSeeOnlineStatus decides whether viewer may see target's online state.
func (e *Engine) CanSeeOnlineStatus(ctx context.Context, viewerID, targetID int, target models.PrivacySettings) (bool, error) {
	return e.canSeeVisibility(ctx, viewerID, targetID, target.ShowOnlineStatus, target.ProfileVisibility)
}

// CanSeeLastActive decides whether viewer may see target's last-active time.
func (e *Engine) CanSeeLastActive(ctx context.Context, viewerID, targetID int, target models.PrivacySettings) (bool, error) {
	return e.canSeeVisibility(ctx, viewerID, targetID, target.ShowLastActive, target.ProfileVisibility)
}

func (e *Engine) canSeeVisibility(ctx context.Context, viewerID, targetID int, flag bool, visibility models.ProfileVisibility) (bool, error) {
	if viewerID == targetID {
		return true, nil
	}
	if !flag {
		return false, nil
	}
	switch visibility {
	case models.VisibilityPublic:
		return true, nil
	case models.VisibilityPrivate:
		return false, nil
	case models.VisibilityFriends:
		return e.graph.AreFriends(ctx, viewerID, targetID)
	default:
		return false, nil
	}
}
