package main

import (
	"encoding/json"
	"testing"

	"github.com/jmerrifield20/recordchain/internal/ledger"
)

func TestBuildRecord(t *testing.T) {
	tests := []struct {
		name    string
		fields  []string
		json    string
		want    ledger.Record
		wantErr bool
	}{
		{
			name:   "fields only",
			fields: []string{"patient_id=P1", "note=a=b"},
			want:   ledger.Record{"patient_id": "P1", "note": "a=b"},
		},
		{
			name:   "json with field override",
			json:   `{"patient_id":"P0","visits":3,"urgent":true}`,
			fields: []string{"patient_id=P1"},
			want:   ledger.Record{"patient_id": "P1", "visits": json.Number("3"), "urgent": true},
		},
		{name: "missing equals", fields: []string{"patient_id"}, wantErr: true},
		{name: "empty key", fields: []string{"=x"}, wantErr: true},
		{name: "nested json", json: `{"a":{"b":1}}`, wantErr: true},
		{
			name:   "json null with fields",
			json:   "null",
			fields: []string{"patient_id=P1"},
			want:   ledger.Record{"patient_id": "P1"},
		},
		{name: "json null alone", json: "null", wantErr: true},
		{name: "empty", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildRecord(tt.fields, tt.json)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %#v, want %#v", k, got[k], v)
				}
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	got := summarize(ledger.Record{"b": "2", "a": true})
	if got != "a=true b=2" {
		t.Errorf("summarize = %q", got)
	}
}
