package measurement

import "encoding/json"

// Payload is the JSON document pushed to every subscriber for a new
// measurement.
type Payload struct {
	ID       string  `json:"id"`
	Weight   float64 `json:"weight"`
	Date     string  `json:"date"`
	Time     string  `json:"time"`
	ImageURL string  `json:"imageUrl"`
}

// PayloadOf maps a measurement to its broadcast form.
func PayloadOf(m Measurement) Payload {
	return Payload{
		ID:       m.SubjectID,
		Weight:   m.Weight,
		Date:     m.Date,
		Time:     m.Time,
		ImageURL: m.ImageRef,
	}
}

// EncodePayload serialises the broadcast form of m.
func EncodePayload(m Measurement) ([]byte, error) {
	return json.Marshal(PayloadOf(m))
}
