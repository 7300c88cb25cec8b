package serialmux

import "testing"

func TestClassifySentence(t *testing.T) {
	tests := []struct {
		line string
		want string
	}{
		{testGGA, SentenceGGA},
		{"$GNGGA,,,,,,0,00,99.99,,,,,,*56", SentenceGGA},
		{testRMC, SentenceRMC},
		{"$GPGSV,3,1,11,03,03,111,00*74", SentenceGSV},
		{"$GPGSA,A,3,04,05,,09,12,,,24,,,,,2.5,1.3,2.1*39", SentenceGSA},
		{"$GPVTG,054.7,T,034.4,M,005.5,N,010.2,K*48", SentenceVTG},
		{"$PMTK001,220,3*30", SentencePMTK},
		{"$GPTXT,01,01,02,ANTSTATUS=OK*3B", SentenceUnknown},
		{"garbage", SentenceUnknown},
		{"", SentenceUnknown},
	}
	for _, tt := range tests {
		if got := ClassifySentence(tt.line); got != tt.want {
			t.Errorf("ClassifySentence(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestFrameSentence(t *testing.T) {
	tests := map[string]string{
		"PMTK220,1000":         "$PMTK220,1000*1F\r\n",
		"PMTK220,1000\n":       "$PMTK220,1000*1F\r\n",
		"$PMTK220,1000*1F":     "$PMTK220,1000*1F\r\n",
		"$PMTK220,1000*1F\r\n": "$PMTK220,1000*1F\r\n",
	}
	for in, want := range tests {
		if got := FrameSentence(in); got != want {
			t.Errorf("FrameSentence(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReceiverState_Observe(t *testing.T) {
	s := NewReceiverState()
	s.Observe(testGGA)
	s.Observe(testGGA)
	s.Observe(testRMC)

	snap := s.Snapshot()
	if snap.Counts[SentenceGGA] != 2 || snap.Counts[SentenceRMC] != 1 {
		t.Errorf("counts = %v", snap.Counts)
	}
	if snap.Latest[SentenceRMC] != testRMC {
		t.Errorf("latest RMC = %q", snap.Latest[SentenceRMC])
	}
	if snap.LastAt.IsZero() {
		t.Error("LastAt not set")
	}

	// Snapshot is a copy.
	snap.Counts[SentenceGGA] = 100
	if s.Snapshot().Counts[SentenceGGA] != 2 {
		t.Error("Snapshot shares state with the receiver")
	}
}

func TestVerifyChecksum(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{testGGA, true},
		{testRMC, true},
		{"$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*00", false},
		{"$PMTK220,1000*1f", true},
		{"$PMTK220,1000*1", false},
		{"$PMTK220,1000*1F0", false},
		{"$PMTK220,1000*ZZ", false},
		{"$PMTK001,220,3", true},
		{"garbage", true},
	}
	for _, tt := range tests {
		if got := VerifyChecksum(tt.line); got != tt.want {
			t.Errorf("VerifyChecksum(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestReceiverState_ObserveCorrupt(t *testing.T) {
	s := NewReceiverState()
	s.ObserveCorrupt("$GPGGA*00")
	s.ObserveCorrupt("$GPGGA*00")

	snap := s.Snapshot()
	if snap.Corrupt != 2 {
		t.Errorf("Corrupt = %d, want 2", snap.Corrupt)
	}
	if len(snap.Counts) != 0 {
		t.Errorf("corrupt lines counted as sentences: %v", snap.Counts)
	}
}
