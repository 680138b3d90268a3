package store

import (
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Soft deletion is a ttl attribute at or before the current time.
// DynamoDB reaps the row eventually; until then every read has to hide
// it, and parent checks have to treat it as absent.

const liveFilterExpr = "attribute_not_exists(#ttl) OR #ttl > :now"

// IsDeleted reports whether an item is soft-deleted.
func IsDeleted(item map[string]types.AttributeValue) bool {
	n, ok := item["ttl"].(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(n.Value, 10, 64)
	return err == nil && ttl <= time.Now().Unix()
}

// TTLFilterExpr returns the filter expression that hides soft-deleted
// items from queries.
func TTLFilterExpr() string {
	return liveFilterExpr
}

// TTLFilterNames returns the attribute names the filter needs. ttl is a
// reserved word in DynamoDB expressions and must go through an alias.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": "ttl"}
}

// TTLFilterValues returns the attribute values the filter needs, bound
// to the current time.
func TTLFilterValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(time.Now().Unix(), 10),
		},
	}
}

// ParentExistsCondition returns the condition a parent row must satisfy
// before a child may be created under it: present and not soft-deleted.
func ParentExistsCondition() string {
	return "attribute_exists(id) AND (" + liveFilterExpr + ")"
}
