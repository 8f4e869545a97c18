package duotrain

import (
	"testing"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env := Envelope{
		Type: MsgStart,
		UUID: "abc",
		Start: &StartRequest{
			DatasetID:    3,
			TotalEpochs:  10,
			StartEpoch:   4,
			BatchSize:    2,
			LearningRate: 0.05,
			Resume: WeightSnapshot{
				{Shape: []int{2}, Data: []float32{1, 2}},
			},
		},
	}
	raw := JsonMarshal(env)

	var decoded Envelope
	if err := decoded.UnmarshalFrom(raw); err != nil {
		t.Fatalf("UnmarshalFrom failed: %v", err)
	}
	if decoded.Type != MsgStart || decoded.UUID != "abc" {
		t.Errorf("header lost: %+v", decoded)
	}
	if decoded.Start == nil || decoded.Start.StartEpoch != 4 {
		t.Fatalf("start payload lost: %+v", decoded.Start)
	}
	if len(decoded.Start.Resume) != 1 || decoded.Start.Resume[0].Data[1] != 2 {
		t.Errorf("resume snapshot lost: %+v", decoded.Start.Resume)
	}
	// unused payload slots stay empty
	if decoded.Init != nil || decoded.Progress != nil || decoded.Complete != nil {
		t.Errorf("unrelated payloads populated: %+v", decoded)
	}
}

func TestEnvelopeUnmarshalErrors(t *testing.T) {
	var env Envelope
	if err := env.UnmarshalFrom([]byte("{not json")); err == nil {
		t.Errorf("malformed envelope accepted")
	}
	if err := env.UnmarshalFrom([]byte(`{"type":""}`)); err == nil {
		t.Errorf("envelope without a type accepted")
	}
}
