package storage

import (
	"database/sql"

	"github.com/ernie/namesweep/internal/domain"
)

func scanNullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// scanIdentityRecord scans an (id, name) row
func scanIdentityRecord(s scanner) (domain.IdentityRecord, error) {
	var rec domain.IdentityRecord
	var id, name sql.NullString
	if err := s.Scan(&id, &name); err != nil {
		return rec, err
	}
	rec.ID = scanNullStringValue(id)
	rec.Name = scanNullStringValue(name)
	return rec, nil
}

// scanDuplicateGroup scans a (name, count) row
func scanDuplicateGroup(s scanner) (domain.DuplicateGroup, error) {
	var g domain.DuplicateGroup
	var name sql.NullString
	if err := s.Scan(&name, &g.Count); err != nil {
		return g, err
	}
	g.Name = scanNullStringValue(name)
	return g, nil
}
