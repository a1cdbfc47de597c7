package discovery

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestEncodeDecodeTXT(t *testing.T) {
	info := &ServiceInfo{
		Name:         "Vehicle Gateway",
		Port:         8090,
		Path:         "/viss",
		Subprotocols: []string{"viss.json", "viss.cbor"},
		TLS:          true,
		VIN:          "WVWZZZ1JZXW000001",
		Version:      "1.2.0",
	}

	txt := EncodeTXT(info)
	if txt[TXTKeyTLS] != "1" {
		t.Errorf("tls = %q, want 1", txt[TXTKeyTLS])
	}
	if txt[TXTKeyProtocols] != "viss.json,viss.cbor" {
		t.Errorf("proto = %q", txt[TXTKeyProtocols])
	}

	got, err := DecodeTXT(StringsToTXTRecords(TXTRecordsToStrings(txt)))
	if err != nil {
		t.Fatalf("DecodeTXT failed: %v", err)
	}

	want := *info
	want.Name = ""
	want.Port = 0
	if !reflect.DeepEqual(*got, want) {
		t.Errorf("DecodeTXT = %+v, want %+v", *got, want)
	}
}

func TestEncodeTXTDefaults(t *testing.T) {
	txt := EncodeTXT(&ServiceInfo{Subprotocols: []string{"viss.json"}})

	if txt[TXTKeyPath] != "/" {
		t.Errorf("path = %q, want /", txt[TXTKeyPath])
	}
	for _, key := range []string{TXTKeyTLS, TXTKeyVIN, TXTKeyVersion} {
		if _, ok := txt[key]; ok {
			t.Errorf("unexpected key %q", key)
		}
	}
}

func TestDecodeTXTErrors(t *testing.T) {
	tests := []struct {
		name string
		txt  TXTRecordMap
		want error
	}{
		{"MissingPath", TXTRecordMap{TXTKeyProtocols: "viss.json"}, ErrMissingRequired},
		{"RelativePath", TXTRecordMap{TXTKeyPath: "viss", TXTKeyProtocols: "viss.json"}, ErrInvalidTXTRecord},
		{"MissingProtocols", TXTRecordMap{TXTKeyPath: "/"}, ErrMissingRequired},
		{"EmptyProtocols", TXTRecordMap{TXTKeyPath: "/", TXTKeyProtocols: ""}, ErrMissingRequired},
		{"BadTLS", TXTRecordMap{TXTKeyPath: "/", TXTKeyProtocols: "viss.json", TXTKeyTLS: "yes"}, ErrInvalidTXTRecord},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTXT(tt.txt)
			if !errors.Is(err, tt.want) {
				t.Errorf("DecodeTXT error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTXTRecordStrings(t *testing.T) {
	strs := TXTRecordsToStrings(TXTRecordMap{"proto": "viss.json", "path": "/"})
	if !reflect.DeepEqual(strs, []string{"path=/", "proto=viss.json"}) {
		t.Errorf("TXTRecordsToStrings = %v", strs)
	}

	txt := StringsToTXTRecords([]string{"a=b=c", "flag", ""})
	if txt["a"] != "b=c" {
		t.Errorf("a = %q, want b=c", txt["a"])
	}
	if v, ok := txt["flag"]; !ok || v != "" {
		t.Errorf("flag = %q, %v", v, ok)
	}
	if len(txt) != 2 {
		t.Errorf("len = %d, want 2", len(txt))
	}
}

func TestValidateTXT(t *testing.T) {
	if err := ValidateTXT([]string{"path=/"}); err != nil {
		t.Errorf("ValidateTXT failed: %v", err)
	}
	long := []string{"ver=" + strings.Repeat("x", MaxTXTRecordSize)}
	if err := ValidateTXT(long); !errors.Is(err, ErrTXTRecordTooLarge) {
		t.Errorf("ValidateTXT error = %v, want %v", err, ErrTXTRecordTooLarge)
	}
}

func TestValidateInstanceName(t *testing.T) {
	if err := ValidateInstanceName("Vehicle Gateway"); err != nil {
		t.Errorf("ValidateInstanceName failed: %v", err)
	}
	if err := ValidateInstanceName(""); !errors.Is(err, ErrMissingRequired) {
		t.Errorf("empty name error = %v", err)
	}
	if err := ValidateInstanceName(strings.Repeat("a", MaxInstanceNameLen+1)); !errors.Is(err, ErrInstanceNameTooLong) {
		t.Errorf("long name error = %v", err)
	}
}
