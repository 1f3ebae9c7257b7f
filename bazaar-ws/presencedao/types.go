package presencedao

const IdentityIndex = "IdentityIndex"

// Presence records one live connection of an identity.
type Presence struct {
	ConnectionID string `dynamodbav:"pk" ddb:"hash"`
	Identity     string `dynamodbav:"identity" ddb:"gsi_hash:IdentityIndex"`
	Node         string `dynamodbav:"node"`
	ConnectedAt  int64  `dynamodbav:"connected_at"`
	TTL          int64  `dynamodbav:"ttl"`
}
