package controllers

// Request/response bodies for the JSON endpoints

// ingestResp acknowledges an accepted measurement.
type ingestResp struct {
	Message string `json:"message"`
	Date    string `json:"date"`
	Time    string `json:"time"`
}

// updateSubjectReq selects the current penguin.
type updateSubjectReq struct {
	ID string `json:"id"`
}

// messageResp carries a human-readable confirmation.
type messageResp struct {
	Message string `json:"message"`
}

// metadataReq attaches a free-form note to a penguin.
type metadataReq struct {
	FieldName  string `json:"field_name"`
	FieldValue string `json:"field_value"`
}

// statusResp is returned by write endpoints that have nothing else to say.
type statusResp struct {
	Status string `json:"status"`
}
