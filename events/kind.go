// Package events defines the domain events the primary Innotter API publishes
// and routes each of them to a statistics store operation.
//
// The event kind travels as transport metadata (the AMQP content type or a
// Kafka header); the message body is the JSON payload. Payload shape by kind:
//
//	page_created, page_updated   {"id", "owner", "name", "description"}
//	page_deleted                 bare page id
//	post_*, like_*               bare page id
//	follower_added, _deleted     bare page id
//	follower_added_all           {"page_id", "quantity"}
package events

// Kind identifies what happened upstream.
type Kind string

const (
	PageCreated      Kind = "page_created"
	PageUpdated      Kind = "page_updated"
	PageDeleted      Kind = "page_deleted"
	PostCreated      Kind = "post_created"
	PostDeleted      Kind = "post_deleted"
	LikeCreated      Kind = "like_created"
	LikeDeleted      Kind = "like_deleted"
	FollowerAdded    Kind = "follower_added"
	FollowerDeleted  Kind = "follower_deleted"
	FollowerAddedAll Kind = "follower_added_all"
)

// Kinds lists every kind the dispatcher handles.
func Kinds() []Kind {
	return []Kind{
		PageCreated, PageUpdated, PageDeleted,
		PostCreated, PostDeleted,
		LikeCreated, LikeDeleted,
		FollowerAdded, FollowerDeleted, FollowerAddedAll,
	}
}

// Known reports whether k is one of Kinds.
func (k Kind) Known() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }
