package param

import "testing"

func TestDecibelText(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"-6", -6},
		{"-6 dB", -6},
		{" 3.5db ", 3.5},
		{"-inf", silenceDB},
		{"-inf dB", silenceDB},
	}
	for _, tt := range tests {
		got, err := ParseDecibels(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseDecibels(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseDecibels("loud"); err == nil {
		t.Error("Expected an error for text without a number")
	}

	if got := FormatDecibels(-6); got != "-6.0 dB" {
		t.Errorf("FormatDecibels(-6) = %q", got)
	}
	if got := FormatDecibels(-120); got != "-inf dB" {
		t.Errorf("FormatDecibels(-120) = %q", got)
	}
}

func TestPercentText(t *testing.T) {
	if got, err := ParsePercent("25%"); err != nil || got != 0.25 {
		t.Errorf("ParsePercent(25%%) = %v, %v", got, err)
	}
	if got, err := ParsePercent("50"); err != nil || got != 0.5 {
		t.Errorf("ParsePercent(50) = %v, %v", got, err)
	}
	if got := FormatPercent(0.333); got != "33%" {
		t.Errorf("FormatPercent(0.333) = %q", got)
	}
}

func TestParameterText(t *testing.T) {
	r := NewRegistry()
	if err := r.Add(
		GainParameter(Key(0), "gain", "Gain", -30, 30).Build(),
		BypassParameter(Key(1), "bypass", "Bypass").Build(),
		IntegerParameter(Key(2), "preset", "Preset", 1, 6, 1).Build(),
	); err != nil {
		t.Fatal(err)
	}

	r.Set(Key(0), -12)
	r.Set(Key(1), 1)
	r.Set(Key(2), 4)
	want := map[string]string{"gain": "-12.0 dB", "bypass": "Bypassed", "preset": "4"}
	got := r.Texts()
	for id, text := range want {
		if got[id] != text {
			t.Errorf("Text of %s = %q, want %q", id, got[id], text)
		}
	}

	bypass := r.Lookup("bypass")
	v, err := bypass.ParseValue("active")
	if err != nil || v != 0 {
		t.Errorf("ParseValue(active) = %v, %v", v, err)
	}
}
