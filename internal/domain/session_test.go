package domain

import (
	"testing"
)

func TestCostOf(t *testing.T) {
	tests := []struct {
		name     string
		energyWh int64
		price    int64
		want     int64
	}{
		{"exact kwh", 10000, 1500, 15000},
		{"rounds up", 1, 1500, 2},
		{"half kwh", 500, 1500, 750},
		{"zero energy", 0, 1500, 0},
		{"negative meter delta", -100, 1500, 0},
		{"zero price", 1000, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CostOf(tt.energyWh, tt.price); got != tt.want {
				t.Errorf("CostOf(%d, %d) = %d, want %d", tt.energyWh, tt.price, got, tt.want)
			}
		})
	}
}

func TestSettleConservation(t *testing.T) {
	s := &ChargingSession{
		MeterStart:     1000,
		PricePerKWh:    1500,
		ReservedAmount: 15000,
		LimitKind:      LimitKindEnergy,
		LimitValue:     10000,
	}

	// Under-consumption: 5 kWh of a 10 kWh limit.
	energy, charged, refund := s.Settle(6000)
	if energy != 5000 {
		t.Fatalf("energy = %d, want 5000", energy)
	}
	if charged != 7500 || refund != 7500 {
		t.Fatalf("charged/refund = %d/%d, want 7500/7500", charged, refund)
	}
	if charged+refund != s.ReservedAmount {
		t.Fatalf("charged + refund = %d, want reserved %d", charged+refund, s.ReservedAmount)
	}

	// Over-consumption never charges past the reservation.
	_, charged, refund = s.Settle(20000)
	if charged != s.ReservedAmount || refund != 0 {
		t.Fatalf("over-consumption charged/refund = %d/%d, want %d/0", charged, refund, s.ReservedAmount)
	}

	// Meter going backwards settles as a full refund.
	energy, charged, refund = s.Settle(500)
	if energy != 0 || charged != 0 || refund != s.ReservedAmount {
		t.Fatalf("backwards meter = (%d, %d, %d), want (0, 0, %d)", energy, charged, refund, s.ReservedAmount)
	}
}

func TestLimitReached(t *testing.T) {
	energySession := &ChargingSession{
		MeterStart:  1000,
		LimitKind:   LimitKindEnergy,
		LimitValue:  10000,
		PricePerKWh: 1500,
	}
	if energySession.LimitReached(10999) {
		t.Error("limit reported reached below the energy budget")
	}
	if !energySession.LimitReached(11000) {
		t.Error("limit not reported reached at exactly the energy budget")
	}

	amountSession := &ChargingSession{
		MeterStart:     0,
		LimitKind:      LimitKindAmount,
		PricePerKWh:    1500,
		ReservedAmount: 15000,
	}
	if amountSession.LimitReached(9999) {
		t.Error("limit reported reached below the amount budget")
	}
	if !amountSession.LimitReached(10000) {
		t.Error("limit not reported reached once cost covers the reservation")
	}
}

func TestSessionStatusSets(t *testing.T) {
	inFlight := []SessionStatus{SessionStatusPending, SessionStatusStarting, SessionStatusActive, SessionStatusStopping}
	for _, s := range inFlight {
		if !s.InFlight() {
			t.Errorf("%s should be in-flight", s)
		}
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	terminal := []SessionStatus{SessionStatusStopped, SessionStatusFailed, SessionStatusExpired}
	for _, s := range terminal {
		if s.InFlight() {
			t.Errorf("%s should not be in-flight", s)
		}
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
