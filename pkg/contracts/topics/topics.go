package topics

const (
	// Kafka
	BetOutcomes = "bet_outcomes"

	// Redis Pub/Sub: snapshots do motor para o hub WS
	StateBroadcast = "engine_state_broadcast"

	// Postgres LISTEN/NOTIFY: insert/update em rounds
	RoundChanges = "round_changes"
)
