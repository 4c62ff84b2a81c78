package config

type WorkerKeyStruct struct {
	PersistAnswersQueue string
	// PersistAnswersDeadQueue holds answer payloads that could not be decoded or stored after
	// every retry, for manual inspection.
	PersistAnswersDeadQueue string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswersQueue:     "persist_answers_queue",
	PersistAnswersDeadQueue: "persist_answers_dead_queue",
}
