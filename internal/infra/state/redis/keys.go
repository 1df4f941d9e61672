package redisstate

import "fmt"

// DefaultKeyPrefix namespaces every key and channel this package touches.
const DefaultKeyPrefix = "chat:"

type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return keyspace{prefix: prefix}
}

// --- Key Generation Helpers ---

func (k keyspace) presenceState(userID string) string {
	return fmt.Sprintf("%spresence:%s", k.prefix, userID)
}

// presenceLeases is a sorted set of session ids scored by lease expiry (unix ms).
func (k keyspace) presenceLeases(userID string) string {
	return fmt.Sprintf("%spresence:%s:leases", k.prefix, userID)
}

func (k keyspace) presenceOnline() string {
	return k.prefix + "presence:online"
}

func (k keyspace) typing(roomID string) string {
	return fmt.Sprintf("%styping:%s", k.prefix, roomID)
}

func (k keyspace) rateLimit(subject string) string {
	return fmt.Sprintf("%sratelimit:%s", k.prefix, subject)
}

// channel maps a fan-out topic onto a pub/sub channel.
func (k keyspace) channel(topic string) string {
	return k.prefix + "events:" + topic
}

func (k keyspace) channelPattern() string {
	return k.prefix + "events:*"
}

func (k keyspace) topicOf(channel string) string {
	return channel[len(k.prefix+"events:"):]
}
