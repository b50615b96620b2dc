package notify

import "strconv"

const (
	TopicOrderPlaced    = "order.placed"
	TopicTopUpSucceeded = "topup.succeeded"
	TopicStatusChanged  = "order.status.changed"
)

// Topics yang dikonsumsi worker.
var Topics = []string{TopicOrderPlaced, TopicTopUpSucceeded, TopicStatusChanged}

// Partition key = user_id, supaya notifikasi 1 user tetap berurutan.
func PartitionKey(userID int64) []byte { return []byte(strconv.FormatInt(userID, 10)) }
