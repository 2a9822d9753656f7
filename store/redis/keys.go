package redis

// Key layout, all under the configurable prefix (default "pulse:"):
//
//	job:<id>            JSON-encoded job
//	q:<queue>:pending   ZSET of waiting/delayed job ids scored by RunAt
//	q:<queue>:s:<state> SET of job ids in that state
//	queues              SET of queue names ever seen
//	lock:<key>          lock token with TTL
//	schedule:<id>       JSON-encoded schedule entry
//	schedules           SET of schedule ids
//	dlq:<id>            JSON-encoded dead letter entry
//	dlq:index           ZSET of entry ids scored by FailedAt
//	events:<name>       pub/sub broadcast channel

func (s *Store) jobKey(jobID string) string {
	return s.prefix + "job:" + jobID
}

func (s *Store) pendingKey(queue string) string {
	return s.prefix + "q:" + queue + ":pending"
}

func (s *Store) stateKey(queue, state string) string {
	return s.prefix + "q:" + queue + ":s:" + state
}

func (s *Store) queuesKey() string {
	return s.prefix + "queues"
}

func (s *Store) lockKey(key string) string {
	return s.prefix + "lock:" + key
}

func (s *Store) scheduleKey(scheduleID string) string {
	return s.prefix + "schedule:" + scheduleID
}

func (s *Store) schedulesKey() string {
	return s.prefix + "schedules"
}

func (s *Store) dlqKey(entryID string) string {
	return s.prefix + "dlq:" + entryID
}

func (s *Store) dlqIndexKey() string {
	return s.prefix + "dlq:index"
}
