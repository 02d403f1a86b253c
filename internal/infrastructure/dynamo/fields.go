package dynamo

// DynamoDB attribute names used in update expressions across all repos.
// Using constants prevents silent runtime bugs caused by key typos.
const (
	fieldRoomID         = "room_id"
	fieldCode           = "code"
	fieldParticipantID  = "participant_id"
	fieldStoryID        = "story_id"
	fieldVoteKey        = "vote_key"
	fieldName           = "name"
	fieldJira           = "jira"
	fieldUpdatedAt      = "updated_at"
	fieldRevealed       = "revealed"
	fieldConsensusValue = "consensus_value"

	// cache table
	fieldCacheKey   = "cache_key"
	fieldCacheBlob  = "b"
	fieldCacheCount = "n"
	fieldExpiresAt  = "expires_at"
)
