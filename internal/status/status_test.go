package status

import "testing"

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
	}{
		{Sending, Sent},
		{Sending, Error},
		{Sending, Pending},
		{Pending, Sending},
		{Pending, Sent},
		{Pending, Error},
		{Error, Sending},
		{Error, Pending},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if !CanTransition(tt.from, tt.to) {
				t.Errorf("CanTransition(%s, %s) = false, want true", tt.from, tt.to)
			}
			if err := Transition(tt.from, tt.to); err != nil {
				t.Errorf("Transition(%s, %s) error = %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestSentIsTerminal(t *testing.T) {
	for _, to := range []Status{Sending, Pending, Error, Sent} {
		if CanTransition(Sent, to) {
			t.Errorf("CanTransition(sent, %s) = true, want false", to)
		}
	}
}

func TestErrorReentersViaSendOrQueue(t *testing.T) {
	// A user retry re-enters at sending (online) or pending (offline),
	// never jumps straight to sent.
	if CanTransition(Error, Sent) {
		t.Error("CanTransition(error, sent) = true, want false")
	}
	if !CanTransition(Error, Sending) || !CanTransition(Error, Pending) {
		t.Error("error must re-enter at sending or pending")
	}
}

func TestValid(t *testing.T) {
	for _, s := range []Status{Sending, Pending, Sent, Error, Received} {
		if !Valid(s) {
			t.Errorf("Valid(%s) = false, want true", s)
		}
	}
	if Valid(Status("delivered")) {
		t.Error("Valid(delivered) = true, want false")
	}
}
