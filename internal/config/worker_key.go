package config

type WorkerKeyStruct struct {
	RegradeQueue string
}

var WorkerKey = &WorkerKeyStruct{
	RegradeQueue: "regrade_submissions_queue",
}
