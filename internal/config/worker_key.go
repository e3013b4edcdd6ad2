package config

// WorkerKeyStruct names the background job kinds run by the dispatcher.
type WorkerKeyStruct struct {
	DeliverWebhookJob  string
	AssignRoleJob      string
	PublishResponseJob string
}

var WorkerKey = &WorkerKeyStruct{
	DeliverWebhookJob:  "deliver_webhook",
	AssignRoleJob:      "assign_role",
	PublishResponseJob: "publish_response",
}
