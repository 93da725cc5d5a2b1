package auth

// EventType classifies a mutation event.
type EventType int

const (
	EventCreated EventType = iota
	EventModified
	EventDeleted
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventModified:
		return "modified"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// mutationEvent marks whether the surrounding transaction has committed.
// Cache invalidation only reacts to committed events; pre-commit events
// exist for subscribers that veto or stage work.
type mutationEvent struct {
	PreCommit bool
}

func (e mutationEvent) Committed() bool { return !e.PreCommit }

// UserEvent signals a change to a user record. Before holds the previous
// state on modification, nil otherwise.
type UserEvent struct {
	mutationEvent
	Type   EventType
	User   *User
	Before *User
}

// GroupEvent signals a change to a group.
type GroupEvent struct {
	mutationEvent
	Type   EventType
	Group  *Group
	Before *Group
}

// RepositoryEvent signals a change to a repository. Before holds the
// previous state on modification, nil otherwise.
type RepositoryEvent struct {
	mutationEvent
	Type       EventType
	Repository *Repository
	Before     *Repository
}

// GrantEvent signals a change to an assigned permission.
type GrantEvent struct {
	mutationEvent
	Type  EventType
	Grant *AssignedPermission
}
