// Package dynamo provides shared DynamoDB constants.
package dynamo

const (
	// Primary key attributes.
	AttrPK = "pk"
	AttrSK = "sk"

	// Key prefixes.
	PrefixMessage = "MESSAGE#"
	PrefixClaim   = "CLAIM"

	// Claim attributes.
	AttrClaimedAt = "claimedAt"
	AttrRally     = "rallyAddress"
	AttrTTL       = "ttl"
)
