package engine

import (
	"database/sql"
	"encoding/json"

	"github.com/statorhq/stator/pkg/stator/models"
)

func decodeStringMap(ns sql.NullString) map[string]string {
	m := make(map[string]string)
	if ns.Valid && ns.String != "" {
		_ = json.Unmarshal([]byte(ns.String), &m)
	}
	return m
}

func encodeStringMap(m map[string]string) sql.NullString {
	if len(m) == 0 {
		return sql.NullString{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func decodeElement(ns sql.NullString) *models.ContextElement {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var e models.ContextElement
	if err := json.Unmarshal([]byte(ns.String), &e); err != nil {
		return nil
	}
	return &e
}

func encodeElement(e *models.ContextElement) sql.NullString {
	if e == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(e)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func decodeElements(ns sql.NullString) []models.ContextElement {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	var out []models.ContextElement
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}

func encodeElements(elems []models.ContextElement) sql.NullString {
	if len(elems) == 0 {
		return sql.NullString{}
	}
	b, err := json.Marshal(elems)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
