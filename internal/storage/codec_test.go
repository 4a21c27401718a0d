package storage

import (
	"errors"
	"testing"

	"retrosim/internal/model"
)

func TestRuleCodecRoundTrip(t *testing.T) {
	rule := model.RuleRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion},
		ID:              "rule-1",
		Domain:          "hope",
		Enabled:         true,
		TrustScore:      0.42,
	}

	data, err := EncodeRule(rule)
	if err != nil {
		t.Fatalf("EncodeRule: %v", err)
	}
	decoded, err := DecodeRule(data)
	if err != nil {
		t.Fatalf("DecodeRule: %v", err)
	}
	if decoded.ID != rule.ID || decoded.TrustScore != rule.TrustScore {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestDecodeRuleRejectsVersionMismatch(t *testing.T) {
	rule := model.RuleRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion + 1, CodecVersion: CurrentCodecVersion},
		ID:              "rule-1",
	}
	data, err := EncodeRule(rule)
	if err != nil {
		t.Fatalf("EncodeRule: %v", err)
	}
	if _, err := DecodeRule(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestForecastCodecRejectsVersionMismatch(t *testing.T) {
	record := model.ForecastRecord{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion + 1},
		TraceID:         "trace-1",
	}
	data, err := EncodeForecast(record)
	if err != nil {
		t.Fatalf("EncodeForecast: %v", err)
	}
	if _, err := DecodeForecast(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}
