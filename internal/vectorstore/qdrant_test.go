package vectorstore

import (
	"testing"
	"time"
)

func TestPayloadRoundTrip(t *testing.T) {
	pub := time.Unix(1_700_000_000, 0).UTC()
	event := time.Unix(1_700_100_000, 0).UTC()
	p := Payload{
		PubDate:   &pub,
		EventDate: &event,
		Category:  "AI",
		Quality:   3,
		EntityIDs: []int64{1, 2, 3},
	}

	got := payloadFromQdrant(payloadToQdrant(p))

	if got.Category != p.Category || got.Quality != p.Quality {
		t.Fatalf("scalar fields mismatch: got %+v, want %+v", got, p)
	}
	if got.PubDate == nil || !got.PubDate.Equal(pub) {
		t.Errorf("PubDate mismatch: got %v, want %v", got.PubDate, pub)
	}
	if got.EventDate == nil || !got.EventDate.Equal(event) {
		t.Errorf("EventDate mismatch: got %v, want %v", got.EventDate, event)
	}
	if len(got.EntityIDs) != len(p.EntityIDs) {
		t.Fatalf("EntityIDs length mismatch: got %v, want %v", got.EntityIDs, p.EntityIDs)
	}
	for i := range p.EntityIDs {
		if got.EntityIDs[i] != p.EntityIDs[i] {
			t.Errorf("EntityIDs[%d] = %d, want %d", i, got.EntityIDs[i], p.EntityIDs[i])
		}
	}
}

func TestDimensionMismatchError(t *testing.T) {
	err := ErrDimensionMismatch{Got: 512, Want: 1024}
	if err.Error() == "" {
		t.Error("expected non-empty error message")
	}
}
