package storage

import (
	"encoding/json"
	"errors"

	"retrosim/internal/model"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

func EncodeRule(r model.RuleRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeRule(data []byte) (model.RuleRecord, error) {
	var rule model.RuleRecord
	if err := json.Unmarshal(data, &rule); err != nil {
		return model.RuleRecord{}, err
	}
	if err := checkVersion(rule.VersionedRecord); err != nil {
		return model.RuleRecord{}, err
	}
	return rule, nil
}

func EncodeForecast(r model.ForecastRecord) ([]byte, error) {
	return json.Marshal(r)
}

func DecodeForecast(data []byte) (model.ForecastRecord, error) {
	var record model.ForecastRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.ForecastRecord{}, err
	}
	if err := checkVersion(record.VersionedRecord); err != nil {
		return model.ForecastRecord{}, err
	}
	return record, nil
}

func EncodeTrustHistory(history []model.TrustEntry) ([]byte, error) {
	return json.Marshal(history)
}

func DecodeTrustHistory(data []byte) ([]model.TrustEntry, error) {
	var history []model.TrustEntry
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func EncodeAuditEntry(entry model.AuditEntry) ([]byte, error) {
	return json.Marshal(entry)
}

func DecodeAuditEntry(data []byte) (model.AuditEntry, error) {
	var entry model.AuditEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return model.AuditEntry{}, err
	}
	return entry, nil
}

func checkVersion(v model.VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return ErrVersionMismatch
	}
	return nil
}
