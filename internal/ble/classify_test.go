package ble

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		adv  Advertisement
		want DeviceKind
	}{
		{
			name: "octo by manufacturer id",
			adv:  Advertisement{ManufacturerData: map[uint16][]byte{0x08D1: {0x01}}},
			want: KindOcto,
		},
		{
			name: "keeson by manufacturer id",
			adv:  Advertisement{ManufacturerData: map[uint16][]byte{0x0A4C: {0x01}}},
			want: KindKeeson,
		},
		{
			name: "richmat by fee7 service uuid",
			adv:  Advertisement{ServiceUUIDs: []string{"0000fee7-0000-1000-8000-00805f9b34fb"}},
			want: KindRichmatGen2,
		},
		{
			name: "linak by service uuid",
			adv:  Advertisement{ServiceUUIDs: []string{"99fa0001-338a-1024-8a49-009c0215f78a"}},
			want: KindLinak,
		},
		{
			name: "richmat by name",
			adv:  Advertisement{Name: "QRRM5678"},
			want: KindRichmatGen2,
		},
		{
			name: "keeson by ksbt name",
			adv:  Advertisement{Name: "KSBT-ab12"},
			want: KindKeeson,
		},
		{
			name: "keeson by base name",
			adv:  Advertisement{Name: "base-i4.00000123"},
			want: KindKeeson,
		},
		{
			name: "motosleep by name",
			adv:  Advertisement{Name: "HHC-2041"},
			want: KindMotoSleep,
		},
		{
			name: "solace by name",
			adv:  Advertisement{Name: "Solace Bed"},
			want: KindSolace,
		},
		{
			name: "reverie by name",
			adv:  Advertisement{Name: "RevCB_44"},
			want: KindReverie,
		},
		{
			name: "octo by name",
			adv:  Advertisement{Name: "RC2-Controller"},
			want: KindOcto,
		},
		{
			name: "linak by name",
			adv:  Advertisement{Name: "LINAK Desk"},
			want: KindLinak,
		},
		{
			name: "unknown falls through to generic",
			adv:  Advertisement{Name: "FitnessTracker", ServiceUUIDs: []string{"0000180f-0000-1000-8000-00805f9b34fb"}},
			want: KindGenericBLE,
		},
		{
			name: "empty advertisement is generic",
			adv:  Advertisement{},
			want: KindGenericBLE,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(&tt.adv); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

// Manufacturer rules outrank service rules, which outrank name rules.
func TestClassifyPrecedence(t *testing.T) {
	adv := &Advertisement{
		Name:             "LINAK Desk",
		ManufacturerData: map[uint16][]byte{0x08D1: {0x01}},
		ServiceUUIDs:     []string{"0000fee7-0000-1000-8000-00805f9b34fb"},
	}
	if got := Classify(adv); got != KindOcto {
		t.Errorf("Classify() = %q, want manufacturer rule to win (octo)", got)
	}

	adv.ManufacturerData = nil
	if got := Classify(adv); got != KindRichmatGen2 {
		t.Errorf("Classify() = %q, want service rule to win (richmat_gen2)", got)
	}

	adv.ServiceUUIDs = nil
	if got := Classify(adv); got != KindLinak {
		t.Errorf("Classify() = %q, want name rule (linak)", got)
	}
}

// Classification must not depend on RSSI, timestamp, or reporting proxy.
func TestClassifyIgnoresObservationMetadata(t *testing.T) {
	base := Advertisement{Name: "QRRM0001"}
	a := base
	a.RSSI = -30
	a.SourceProxy = "proxy1"
	b := base
	b.RSSI = -90
	b.SourceProxy = "proxy2"

	if Classify(&a) != Classify(&b) {
		t.Error("classification changed with RSSI/proxy metadata")
	}
}

func TestValidKind(t *testing.T) {
	for _, k := range []DeviceKind{
		KindRichmatGen2, KindLinak, KindSolace, KindMotoSleep,
		KindReverie, KindKeeson, KindOcto, KindGenericBLE,
	} {
		if !ValidKind(string(k)) {
			t.Errorf("ValidKind(%q) = false, want true", k)
		}
	}
	if ValidKind("smart_toaster") {
		t.Error(`ValidKind("smart_toaster") = true, want false`)
	}
}
