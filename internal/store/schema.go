package store

import _ "embed"

// Schema is the reference DDL, including the confirm_payment and check_stock procedures.
//
//go:embed sql/schema.sql
var Schema string
