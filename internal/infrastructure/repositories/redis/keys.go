package redis

import "streamgate/internal/core/domain"

// Keyspace builds every key this package touches so that all instances agree
// on names.
type Keyspace struct {
	prefix string
}

func NewKeyspace(prefix string) Keyspace {
	if prefix == "" {
		prefix = "streamgate"
	}
	return Keyspace{prefix: prefix}
}

func (k Keyspace) SchemaVersion() string { return k.prefix + ":schema:version" }

func (k Keyspace) Session(key domain.StreamKey) string {
	return k.prefix + ":session:" + string(key)
}

func (k Keyspace) Viewers(key domain.StreamKey) string {
	return k.prefix + ":session:" + string(key) + ":viewers"
}

// ActiveSessions is the sorted set of live keys scored by expiry (unix ms).
func (k Keyspace) ActiveSessions() string { return k.prefix + ":sessions:active" }

func (k Keyspace) Stats(key domain.StreamKey) string {
	return k.prefix + ":stats:" + string(key)
}

func (k Keyspace) RateCounter(name string) string { return k.prefix + ":guard:" + name }

func (k Keyspace) Block(identifier string) string { return k.prefix + ":guard:block:" + identifier }

func (k Keyspace) Attempts(id domain.SubscriptionID) string {
	return k.prefix + ":webhook:attempts:" + string(id)
}
